package eventstream

import (
	"os"
	"path/filepath"
	"strings"
)

// ReadBranch returns the current git branch of the workspace by reading
// .git/HEAD directly. A detached HEAD yields the short commit hash; a
// missing or unreadable HEAD yields "".
func ReadBranch(workspace string) string {
	raw, err := os.ReadFile(filepath.Join(workspace, ".git", "HEAD"))
	if err != nil {
		return ""
	}
	head := strings.TrimSpace(string(raw))
	if ref, ok := strings.CutPrefix(head, "ref: "); ok {
		return strings.TrimPrefix(ref, "refs/heads/")
	}
	if len(head) >= 7 {
		return head[:7]
	}
	return head
}
