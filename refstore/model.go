package refstore

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/makeos-kit/gitd/gerr"
	"github.com/makeos-kit/gitd/objects"
)

// Mode is a tree entry's file mode tag (§3: mode ∈ {file, subtree}).
type Mode string

const (
	ModeFile    Mode = "100644"
	ModeSubtree Mode = "40000"
)

// TreeEntry is one (mode, name, object-hash) triple in a tree object.
type TreeEntry struct {
	Mode Mode
	Name string
	Hash string
}

// Tree is the decoded form of a tree object: an ordered-by-name
// sequence of entries representing one directory snapshot (§3).
type Tree struct {
	Entries []TreeEntry
}

// EncodeTree serialises entries (sorting them by name first, per the
// ordering invariant in §3) into a tree object's payload: one line per
// entry, "<mode> <name> <hash>\n".
func EncodeTree(entries []TreeEntry) []byte {
	sorted := append([]TreeEntry{}, entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	var buf bytes.Buffer
	for _, e := range sorted {
		fmt.Fprintf(&buf, "%s %s %s\n", e.Mode, e.Name, e.Hash)
	}
	return buf.Bytes()
}

// DecodeTree parses a tree object's payload back into entries.
func DecodeTree(payload []byte) (*Tree, error) {
	var entries []TreeEntry
	lines := strings.Split(strings.TrimSuffix(string(payload), "\n"), "\n")
	for _, line := range lines {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 3)
		if len(parts) != 3 {
			return nil, gerr.New(gerr.Corrupt, "malformed tree entry: "+line)
		}
		mode := Mode(parts[0])
		if mode != ModeFile && mode != ModeSubtree {
			return nil, gerr.New(gerr.Corrupt, "invalid tree entry mode: "+parts[0])
		}
		if !objects.ValidHex(parts[2]) {
			return nil, gerr.New(gerr.Corrupt, "invalid tree entry hash: "+parts[2])
		}
		entries = append(entries, TreeEntry{Mode: mode, Name: parts[1], Hash: parts[2]})
	}
	return &Tree{Entries: entries}, nil
}

// Commit is the decoded form of a commit object (§3): a tree hash, 0-2
// parent hashes (order significant — first parent is mainline), and an
// optional message.
type Commit struct {
	Tree    string
	Parents []string
	Message string
}

// EncodeCommit serialises a commit into its object payload:
//
//	tree <hash>
//	parent <hash>      (0, 1, or 2 lines)
//	<blank line>
//	<message>
func EncodeCommit(c *Commit) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", c.Tree)
	for _, p := range c.Parents {
		fmt.Fprintf(&buf, "parent %s\n", p)
	}
	buf.WriteString("\n")
	buf.WriteString(c.Message)
	return buf.Bytes()
}

// DecodeCommit parses a commit object's payload back into a Commit.
func DecodeCommit(payload []byte) (*Commit, error) {
	text := string(payload)
	headerEnd := strings.Index(text, "\n\n")
	var header, message string
	if headerEnd == -1 {
		header = strings.TrimSuffix(text, "\n")
	} else {
		header = text[:headerEnd]
		message = text[headerEnd+2:]
	}

	c := &Commit{Message: message}
	for _, line := range strings.Split(header, "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			return nil, gerr.New(gerr.Corrupt, "malformed commit header line: "+line)
		}
		switch parts[0] {
		case "tree":
			if !objects.ValidHex(parts[1]) {
				return nil, gerr.New(gerr.Corrupt, "invalid commit tree hash")
			}
			c.Tree = parts[1]
		case "parent":
			if !objects.ValidHex(parts[1]) {
				return nil, gerr.New(gerr.Corrupt, "invalid commit parent hash")
			}
			if len(c.Parents) >= 2 {
				return nil, gerr.New(gerr.Corrupt, "commit has more than two parents")
			}
			c.Parents = append(c.Parents, parts[1])
		default:
			return nil, gerr.New(gerr.Corrupt, "unknown commit header field: "+parts[0])
		}
	}
	if c.Tree == "" {
		return nil, gerr.New(gerr.Corrupt, "commit missing tree")
	}
	return c, nil
}

// IndexState is one index entry's staging state (§3).
type IndexState int

const (
	StateUnstaged IndexState = 0
	StateDeleted  IndexState = 1
	StateStaged   IndexState = 2
)

// IndexEntry is one (path, blob-hash, state) triple in the index (§3).
type IndexEntry struct {
	Path  string
	Hash  string
	State IndexState
}

// encodeIndexLine and parseIndexLine implement the on-disk index line
// format from §6: "<path>;<blob-hash>;<state>\n".
func encodeIndexLine(e IndexEntry) string {
	return fmt.Sprintf("%s;%s;%d\n", e.Path, e.Hash, e.State)
}

func parseIndexLine(line string) (IndexEntry, error) {
	parts := strings.Split(line, ";")
	if len(parts) != 3 {
		return IndexEntry{}, gerr.New(gerr.Corrupt, "malformed index line: "+line)
	}
	state, err := strconv.Atoi(parts[2])
	if err != nil || (state != 0 && state != 1 && state != 2) {
		return IndexEntry{}, gerr.New(gerr.Corrupt, "invalid index entry state: "+parts[2])
	}
	return IndexEntry{Path: parts[0], Hash: parts[1], State: IndexState(state)}, nil
}
