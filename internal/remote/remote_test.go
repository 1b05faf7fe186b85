package remote

import (
	"testing"
)

// ///////////////////////////////////////////////
// githubRemoteRe Tests
// ///////////////////////////////////////////////

func TestGithubRemoteReMatches(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantOwner string
		wantRepo  string
	}{
		{"HTTPS URL", "https://github.com/user/repo", "user", "repo"},
		{"HTTPS URL with .git", "https://github.com/user/repo.git", "user", "repo"},
		{"SSH URL", "git@github.com:user/repo.git", "user", "repo"},
		{"SSH URL without .git", "git@github.com:user/repo", "user", "repo"},
		{"HTTPS with org name", "https://github.com/my-org/my-project", "my-org", "my-project"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := githubRemoteRe.FindStringSubmatch(tt.input)
			if len(m) != 3 {
				t.Fatalf("expected 3 groups, got %d: %v", len(m), m)
			}
			if m[1] != tt.wantOwner {
				t.Errorf("owner = %q, want %q", m[1], tt.wantOwner)
			}
			if m[2] != tt.wantRepo {
				t.Errorf("repo = %q, want %q", m[2], tt.wantRepo)
			}
		})
	}
}

func TestGithubRemoteReNoMatch(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"GitLab HTTPS", "https://gitlab.com/user/repo"},
		{"random string", "just some text"},
		{"empty string", ""},
		{"partial URL", "github.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := githubRemoteRe.FindStringSubmatch(tt.input)
			if len(m) == 3 {
				t.Errorf("expected no match for %q, but got owner=%q repo=%q", tt.input, m[1], m[2])
			}
		})
	}
}

// ///////////////////////////////////////////////
// RawURL Tests
// ///////////////////////////////////////////////

// setOwnerRepo overrides the package-level owner and repo for testing.
// It first triggers ensureInit so the sync.Once is consumed (preventing
// git commands from running during test), then sets the desired values.
// Original values are restored via t.Cleanup.
func setOwnerRepo(t *testing.T, o, r string) {
	t.Helper()

	ensureInit()

	origOwner, origRepo := owner, repo
	owner = o
	repo = r

	t.Cleanup(func() {
		owner = origOwner
		repo = origRepo
	})
}

func TestOwnerAndRepo(t *testing.T) {
	setOwnerRepo(t, "myowner", "myrepo")
	if got := Owner(); got != "myowner" {
		t.Errorf("Owner() = %q, want myowner", got)
	}
	if got := Repo(); got != "myrepo" {
		t.Errorf("Repo() = %q, want myrepo", got)
	}
}

func TestRawURLFormat(t *testing.T) {
	setOwnerRepo(t, "testowner", "testrepo")

	got := RawURL(".release-manifest.json")
	want := "https://raw.githubusercontent.com/testowner/testrepo/main/.release-manifest.json"
	if got != want {
		t.Errorf("RawURL = %q, want %q", got, want)
	}
}

func TestRawURLEmptyWhenNotConfigured(t *testing.T) {
	tests := []struct {
		name  string
		owner string
		repo  string
	}{
		{"both empty", "", ""},
		{"owner only", "testowner", ""},
		{"repo only", "", "testrepo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setOwnerRepo(t, tt.owner, tt.repo)
			if got := RawURL("file.txt"); got != "" {
				t.Errorf("RawURL = %q, want empty", got)
			}
		})
	}
}
