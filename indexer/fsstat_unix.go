//go:build unix

package indexer

import "golang.org/x/sys/unix"

// StatfsPercentUsed returns the percentage of blocks in use on the
// filesystem containing path, the real-world probe behind
// SetFsFullChecker's flush-policy hook (spec §4.4 "Flush policy").
func StatfsPercentUsed(path string) (int, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	if stat.Blocks == 0 {
		return 0, nil
	}
	used := stat.Blocks - stat.Bfree
	return int(used * 100 / stat.Blocks), nil
}
