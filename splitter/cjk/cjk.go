// Package cjk implements the external CJK splitter of spec §4.2: a pool
// of long-lived helper subprocesses, each a tab-separated (word,
// startCharOffset, endCharOffset) segmenter, reused across splitter
// instances to amortize process startup cost.
//
// Per DESIGN NOTES' "global mutable state" guidance, the pool is a
// construction-time resource passed explicitly to splitter.Options.CJK,
// never a package-level global.
package cjk

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/tmc/rclindex/splitter"
)

// Tagger names the external segmenter to invoke (spec §4.2 "tagger").
type Tagger struct {
	Name string
	Path string
	Args []string
}

type helper struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

func startHelper(t Tagger) (*helper, error) {
	cmd := exec.Command(t.Path, t.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &helper{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}, nil
}

func (h *helper) close() {
	h.stdin.Close()
	_ = h.cmd.Wait()
}

// segment sends data to the helper and reads back one line of
// tab-separated (word,start,end) triples, per spec §4.2's protocol.
func (h *helper) segment(data string) (string, error) {
	if _, err := fmt.Fprintf(h.stdin, "%s\n", strings.ReplaceAll(data, "\n", " ")); err != nil {
		return "", err
	}
	line, err := h.stdout.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\n"), nil
}

// Pool manages a set of helper processes for one Tagger, starting new
// ones on demand and discarding ones a caller reports broken.
type Pool struct {
	tagger Tagger
	mu     sync.Mutex
	free   []*helper

	unusableMu sync.RWMutex
	unusable   bool
}

func NewPool(t Tagger) *Pool {
	return &Pool{tagger: t}
}

func (p *Pool) isUnusable() bool {
	p.unusableMu.RLock()
	defer p.unusableMu.RUnlock()
	return p.unusable
}

// latch marks the pool permanently unusable after what looks like a
// "script not installed" class of failure (spec §4.2 "A permanent
// failure... latches an unusable flag").
func (p *Pool) latch() {
	p.unusableMu.Lock()
	p.unusable = true
	p.unusableMu.Unlock()
}

func (p *Pool) checkout() (*helper, error) {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		h := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return h, nil
	}
	p.mu.Unlock()
	return startHelper(p.tagger)
}

func (p *Pool) checkin(h *helper, broken bool) {
	if broken {
		h.close()
		return
	}
	p.mu.Lock()
	p.free = append(p.free, h)
	p.mu.Unlock()
}

// Splitter adapts a Pool to the splitter.Splitter interface: it batches
// the submitted text through one checked-out helper, parses the
// response, translates character offsets to byte offsets, and emits
// tokens sorted by (start asc, end desc) so a covering span precedes its
// contained words (spec §4.2 "Segmentation behavior").
type Splitter struct {
	Pool *Pool
}

func New(pool *Pool) *Splitter { return &Splitter{Pool: pool} }

type token struct {
	word       string
	startChar  int
	endChar    int
}

func parseResponse(line string) ([]token, error) {
	if line == "" {
		return nil, nil
	}
	fields := strings.Split(line, "\t")
	if len(fields)%3 != 0 {
		return nil, fmt.Errorf("cjk: malformed response, %d fields not a multiple of 3", len(fields))
	}
	tokens := make([]token, 0, len(fields)/3)
	for i := 0; i+2 < len(fields); i += 3 {
		start, err := strconv.Atoi(fields[i+1])
		if err != nil {
			return nil, fmt.Errorf("cjk: bad start offset %q: %w", fields[i+1], err)
		}
		end, err := strconv.Atoi(fields[i+2])
		if err != nil {
			return nil, fmt.Errorf("cjk: bad end offset %q: %w", fields[i+2], err)
		}
		tokens = append(tokens, token{word: fields[i], startChar: start, endChar: end})
	}
	sort.SliceStable(tokens, func(a, b int) bool {
		if tokens[a].startChar != tokens[b].startChar {
			return tokens[a].startChar < tokens[b].startChar
		}
		return tokens[a].endChar > tokens[b].endChar
	})
	return tokens, nil
}

// charToByteOffsets builds the offset map the caller needs to translate
// the helper's character offsets back into byte offsets into text.
func charToByteOffsets(text string) []int {
	offsets := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(text))
	return offsets
}

func (s *Splitter) Split(text string, sink splitter.Sink) bool {
	if s.Pool.isUnusable() {
		return true
	}
	h, err := s.Pool.checkout()
	if err != nil {
		s.Pool.latch()
		return true
	}

	resp, err := h.segment(text)
	if err != nil {
		s.Pool.checkin(h, true)
		return true
	}
	s.Pool.checkin(h, false)

	tokens, err := parseResponse(resp)
	if err != nil {
		return true
	}

	byteOff := charToByteOffsets(text)
	var pos uint32
	for _, tk := range tokens {
		if tk.startChar < 0 || tk.endChar > len(byteOff)-1 || tk.startChar > tk.endChar {
			continue
		}
		bs := splitter.ByteSpan{Start: byteOff[tk.startChar], End: byteOff[tk.endChar]}
		if !sink.TakeWord(tk.word, pos, bs) {
			return false
		}
		pos++
	}
	return true
}
