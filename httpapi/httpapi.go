// Package httpapi exposes the pull-request lifecycle over HTTP (§4.6):
// list, get, commits, create and merge, across every repository hosted
// under one root. Routing is a regex table dispatched by a single
// handler; every request serialises against the repository through the
// all-branches lock before touching the filesystem.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/asaskevich/govalidator"

	"github.com/makeos-kit/gitd/commands"
	"github.com/makeos-kit/gitd/gerr"
	"github.com/makeos-kit/gitd/lockmgr"
	"github.com/makeos-kit/gitd/pkgs/logger"
	"github.com/makeos-kit/gitd/prstore"
	"github.com/makeos-kit/gitd/refstore"
)

// Store is the pull-request persistence the handler needs; implemented
// by prstore.Postgres.
type Store interface {
	List(ctx context.Context, repo string) ([]*prstore.PullRequest, error)
	Get(ctx context.Context, repo string, number int) (*prstore.PullRequest, error)
	Create(ctx context.Context, pr *prstore.PullRequest) (int, error)
	SetMergedCommit(ctx context.Context, repo string, number int, commit string) error
}

// Handler routes pull-request API requests.
type Handler struct {
	store    Store
	locks    *lockmgr.Manager
	repoRoot string
	reg      commands.Registry
	log      logger.Logger
}

// New constructs the API handler over the repositories under repoRoot.
func New(store Store, locks *lockmgr.Manager, repoRoot string, log logger.Logger) *Handler {
	return &Handler{
		store:    store,
		locks:    locks,
		repoRoot: repoRoot,
		reg:      commands.NewRegistry(log),
		log:      log.Module("httpapi"),
	}
}

type routeHandler func(h *Handler, w http.ResponseWriter, r *http.Request, params []string)

type route struct {
	pattern *regexp.Regexp
	method  string
	handle  routeHandler
}

var routes = []route{
	{regexp.MustCompile(`^/repos/([^/]+)/pulls$`), "GET", (*Handler).listPulls},
	{regexp.MustCompile(`^/repos/([^/]+)/pulls$`), "POST", (*Handler).createPull},
	{regexp.MustCompile(`^/repos/([^/]+)/pulls/([0-9]+)$`), "GET", (*Handler).getPull},
	{regexp.MustCompile(`^/repos/([^/]+)/pulls/([0-9]+)/commits$`), "GET", (*Handler).pullCommits},
	{regexp.MustCompile(`^/repos/([^/]+)/pulls/([0-9]+)/merge$`), "PUT", (*Handler).mergePull},
}

// ServeHTTP dispatches against the route table; a request matching no
// route shape is malformed (400), a shape match with the wrong method
// is 405.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	methodMismatch := false
	for _, rt := range routes {
		m := rt.pattern.FindStringSubmatch(r.URL.Path)
		if m == nil {
			continue
		}
		if r.Method != rt.method {
			methodMismatch = true
			continue
		}
		rt.handle(h, w, r, m[1:])
		return
	}
	if methodMismatch {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeError(w, http.StatusBadRequest, "malformed request")
}

// repoStore opens the named hosted repository, failing NotFound when
// it does not exist.
func (h *Handler) repoStore(repo string) (*refstore.Store, *refstore.Paths, error) {
	if strings.Contains(repo, "..") {
		return nil, nil, gerr.New(gerr.NotFound, "unknown repository: "+repo)
	}
	paths := refstore.NewPaths(h.repoRoot + "/" + repo)
	store := refstore.Open(paths.Root)
	if !store.Exists() {
		return nil, nil, gerr.New(gerr.NotFound, "unknown repository: "+repo)
	}
	return store, paths, nil
}

// lockRepo takes the all-branches sentinel for the repository (§4.6);
// the returned owner must be released on every exit path.
func (h *Handler) lockRepo(repo string) *lockmgr.Owner {
	owner := h.locks.NewOwner()
	owner.Lock(lockmgr.AllBranchesLockName(repo))
	return owner
}

func (h *Handler) listPulls(w http.ResponseWriter, r *http.Request, params []string) {
	repo := params[0]
	owner := h.lockRepo(repo)
	defer owner.Release()

	if _, _, err := h.repoStore(repo); err != nil {
		writeErrorFor(w, err)
		return
	}
	prs, err := h.store.List(r.Context(), repo)
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	if prs == nil {
		prs = []*prstore.PullRequest{}
	}
	writeJSON(w, http.StatusOK, prs)
}

func (h *Handler) getPull(w http.ResponseWriter, r *http.Request, params []string) {
	repo, number := params[0], mustAtoi(params[1])
	owner := h.lockRepo(repo)
	defer owner.Release()

	if _, _, err := h.repoStore(repo); err != nil {
		writeErrorFor(w, err)
		return
	}
	pr, err := h.store.Get(r.Context(), repo, number)
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

// pullCommits returns the merged commit's log when the PR is merged,
// and the head and base logs separately while it is open (§4.6).
func (h *Handler) pullCommits(w http.ResponseWriter, r *http.Request, params []string) {
	repo, number := params[0], mustAtoi(params[1])
	owner := h.lockRepo(repo)
	defer owner.Release()

	_, paths, err := h.repoStore(repo)
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	pr, err := h.store.Get(r.Context(), repo, number)
	if err != nil {
		writeErrorFor(w, err)
		return
	}

	logOf := func(ref string) (string, error) {
		return h.reg.Dispatch(r.Context(), "log", []string{ref}, paths)
	}

	if pr.Merged() {
		text, err := logOf(pr.CommitAfterMerge)
		if err != nil {
			writeErrorFor(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"commits": text})
		return
	}

	headLog, err := logOf(pr.HeadBranch)
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	baseLog, err := logOf(pr.BaseBranch)
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"head": headLog, "base": baseLog})
}

// createBody is the POST payload.
type createBody struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Base  string `json:"base"`
	Head  string `json:"head"`
}

func (h *Handler) createPull(w http.ResponseWriter, r *http.Request, params []string) {
	repo := params[0]
	owner := h.lockRepo(repo)
	defer owner.Release()

	var body createBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	store, _, err := h.repoStore(repo)
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	if govalidator.IsNull(body.Title) {
		writeError(w, http.StatusUnprocessableEntity, "title must not be empty")
		return
	}
	if govalidator.IsNull(body.Base) || govalidator.IsNull(body.Head) {
		writeError(w, http.StatusUnprocessableEntity, "base and head branches are required")
		return
	}
	if body.Head == body.Base {
		writeError(w, http.StatusUnprocessableEntity, "head must differ from base")
		return
	}
	for _, branch := range []string{body.Base, body.Head} {
		if !store.BranchExists(branch) {
			writeError(w, http.StatusUnprocessableEntity, "no such branch: "+branch)
			return
		}
	}

	pr := &prstore.PullRequest{
		Repo:       repo,
		Title:      body.Title,
		Body:       body.Body,
		BaseBranch: body.Base,
		HeadBranch: body.Head,
	}
	if _, err := h.store.Create(r.Context(), pr); err != nil {
		writeErrorFor(w, err)
		return
	}
	h.log.Info("Pull request created", "Repo", repo, "Number", pr.Number)
	writeJSON(w, http.StatusOK, pr)
}

// mergePull performs the server-side merge of head into base and
// records the resulting commit exactly once (§4.6, §8 scenario E).
func (h *Handler) mergePull(w http.ResponseWriter, r *http.Request, params []string) {
	repo, number := params[0], mustAtoi(params[1])
	owner := h.lockRepo(repo)
	defer owner.Release()

	_, paths, err := h.repoStore(repo)
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	pr, err := h.store.Get(r.Context(), repo, number)
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	if pr.Merged() {
		writeError(w, http.StatusMethodNotAllowed, "pull request already merged")
		return
	}

	commit, err := h.reg.Dispatch(r.Context(), "merge",
		[]string{pr.HeadBranch, "into", pr.BaseBranch}, paths)
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	if commit == "Fast-forward" || commit == "Already up to date." {
		// A fast-forward leaves the base at the head tip; record that.
		store, _, err := h.repoStore(repo)
		if err != nil {
			writeErrorFor(w, err)
			return
		}
		commit, err = store.ResolveRef("refs/heads/" + pr.BaseBranch)
		if err != nil {
			writeErrorFor(w, err)
			return
		}
	}

	if err := h.store.SetMergedCommit(r.Context(), repo, number, commit); err != nil {
		writeErrorFor(w, err)
		return
	}
	pr.CommitAfterMerge = commit
	h.log.Info("Pull request merged", "Repo", repo, "Number", number, "Commit", commit)
	writeJSON(w, http.StatusOK, pr)
}

// writeErrorFor maps error kinds to the status table in §4.6.
func writeErrorFor(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch gerr.Of(err) {
	case gerr.NotFound:
		code = http.StatusNotFound
	case gerr.InvalidArgument:
		code = http.StatusUnprocessableEntity
	case gerr.AlreadyExists:
		code = http.StatusMethodNotAllowed
	case gerr.ConflictingRef:
		code = http.StatusConflict
	}
	writeError(w, code, err.Error())
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// mustAtoi converts a digits-only route parameter; the route regex
// guarantees it parses.
func mustAtoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
