//go:build !unix

package indexer

import "fmt"

// StatfsPercentUsed has no portable implementation outside unix; callers
// on other platforms should supply their own checker via
// SetFsFullChecker or leave the flush-policy fullness check disabled.
func StatfsPercentUsed(path string) (int, error) {
	return 0, fmt.Errorf("indexer: StatfsPercentUsed unsupported on this platform")
}
