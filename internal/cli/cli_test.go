package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bos-cli/internal/feed"
	"bos-cli/internal/model"

	"github.com/alicebob/miniredis/v2"
	xansi "github.com/charmbracelet/x/ansi"
)

// setupCLI points the CLI at a fresh config dir with deterministic positioning and returns a
// database path inside it.
func setupCLI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("BOS_CONFIG_DIR", dir)
	for _, k := range []string{"BOS_DB", "BOS_REDIS_URL", "BOS_FORMAT", "BOS_OFFLINE", "BOS_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	cfg := `{
  // exact positions in assertions
  "positioning": {"disableRandomization": true},
}`
	if err := os.WriteFile(filepath.Join(dir, "config.jsonc"), []byte(cfg), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return filepath.Join(dir, "bos.sqlite")
}

func runCLI(t *testing.T, args []string) (stdout []byte, stderr []byte, err error) {
	t.Helper()

	cmd := NewRootCmd()

	var outBuf bytes.Buffer
	var errBuf bytes.Buffer
	cmd.SetOut(&outBuf)
	cmd.SetErr(&errBuf)
	cmd.SetArgs(args)

	e := cmd.Execute()
	return outBuf.Bytes(), errBuf.Bytes(), e
}

// mustRun runs args against db and decodes the JSON envelope.
func mustRun(t *testing.T, db string, args ...string) map[string]any {
	t.Helper()
	out, errOut, err := runCLI(t, append([]string{"--db", db}, args...))
	if err != nil {
		t.Fatalf("%v: %v\nstderr: %s", args, err, errOut)
	}
	var env map[string]any
	if err := json.Unmarshal(out, &env); err != nil {
		t.Fatalf("%v: output is not JSON: %v\n%s", args, err, out)
	}
	if _, ok := env["data"]; !ok {
		t.Fatalf("%v: missing data key: %s", args, out)
	}
	return env
}

func dataList(t *testing.T, env map[string]any) []map[string]any {
	t.Helper()
	xs, ok := env["data"].([]any)
	if !ok {
		t.Fatalf("data is not a list: %#v", env["data"])
	}
	out := make([]map[string]any, 0, len(xs))
	for _, x := range xs {
		m, ok := x.(map[string]any)
		if !ok {
			t.Fatalf("entry is not an object: %#v", x)
		}
		out = append(out, m)
	}
	return out
}

func field[T any](t *testing.T, m map[string]any, k string) T {
	t.Helper()
	v, ok := m[k].(T)
	if !ok {
		t.Fatalf("%s: unexpected %#v in %#v", k, m[k], m)
	}
	return v
}

func idsOf(t *testing.T, rows []map[string]any) []string {
	t.Helper()
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, field[string](t, r, "id"))
	}
	return out
}

func positionsByID(t *testing.T, rows []map[string]any) map[string]float64 {
	t.Helper()
	out := map[string]float64{}
	for _, r := range rows {
		out[field[string](t, r, "id")] = field[float64](t, r, "position")
	}
	return out
}

func addTasks(t *testing.T, db, job string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		mustRun(t, db, "tasks", "add", "--id", id, "--job", job, "--title", strings.ToUpper(id))
	}
}

func TestTasksAddAndListOutline(t *testing.T) {
	db := setupCLI(t)
	addTasks(t, db, "roof", "a", "b")
	env := mustRun(t, db, "tasks", "add", "--id", "c", "--parent", "a", "--title", "C", "--status", "in_progress")
	c := env["data"].(map[string]any)
	if got := field[string](t, c, "job_id"); got != "roof" {
		t.Fatalf("child job = %q, want the parent's job", got)
	}

	rows := dataList(t, mustRun(t, db, "tasks", "list", "--job", "roof"))
	if got := strings.Join(idsOf(t, rows), ","); got != "a,c,b" {
		t.Fatalf("outline order = %s, want a,c,b", got)
	}
	if d := field[float64](t, rows[1], "depth"); d != 1 {
		t.Fatalf("child depth = %v", d)
	}
	if !field[bool](t, rows[0], "has_subtasks") || !field[bool](t, rows[0], "expanded") {
		t.Fatalf("parent row = %#v", rows[0])
	}
	pos := positionsByID(t, rows)
	if pos["a"] != 10000 || pos["b"] != 20000 || pos["c"] != 10000 {
		t.Fatalf("positions = %v", pos)
	}

	rows = dataList(t, mustRun(t, db, "tasks", "list", "--job", "roof", "--collapsed"))
	if got := strings.Join(idsOf(t, rows), ","); got != "a,b" {
		t.Fatalf("collapsed = %s", got)
	}

	rows = dataList(t, mustRun(t, db, "tasks", "list", "--job", "roof", "--status", "in_progress"))
	if got := strings.Join(idsOf(t, rows), ","); got != "a,c" {
		t.Fatalf("filtered = %s, want the match and its ancestor", got)
	}

	rows = dataList(t, mustRun(t, db, "tasks", "list", "--flat"))
	if len(rows) != 3 {
		t.Fatalf("flat = %d rows", len(rows))
	}
	if _, ok := rows[0]["depth"]; ok {
		t.Fatalf("flat rows carry outline fields: %#v", rows[0])
	}
}

func TestTasksListText(t *testing.T) {
	db := setupCLI(t)
	addTasks(t, db, "roof", "a")
	mustRun(t, db, "tasks", "add", "--id", "c", "--parent", "a", "--title", "C", "--status", "done")

	out, errOut, err := runCLI(t, []string{"--db", db, "--format", "text", "tasks", "list"})
	if err != nil {
		t.Fatalf("list: %v\n%s", err, errOut)
	}
	s := string(out)
	if !strings.Contains(s, "▾ A  (a @10000)") {
		t.Fatalf("missing parent line:\n%s", s)
	}
	if !strings.Contains(s, "  • C  [Done]  (c @10000)") {
		t.Fatalf("missing child line:\n%s", s)
	}
}

func TestTasksAddRejectsConflictingPlacement(t *testing.T) {
	db := setupCLI(t)
	addTasks(t, db, "roof", "a")
	_, errOut, err := runCLI(t, []string{"--db", db, "tasks", "add", "--job", "roof", "--title", "x", "--first", "--after", "a"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(string(errOut), "at most one of") {
		t.Fatalf("stderr = %s", errOut)
	}
}

func TestTasksMove(t *testing.T) {
	db := setupCLI(t)
	addTasks(t, db, "roof", "a", "b", "c", "d")

	ups := dataList(t, mustRun(t, db, "tasks", "move", "d", "c", "--after", "a"))
	pos := positionsByID(t, ups)
	if pos["d"] != 15000 || pos["c"] != 17500 {
		t.Fatalf("updates = %v, want d=15000 c=17500", pos)
	}
	rows := dataList(t, mustRun(t, db, "tasks", "list", "--job", "roof"))
	if got := strings.Join(idsOf(t, rows), ","); got != "a,d,c,b" {
		t.Fatalf("order = %s", got)
	}

	ups = dataList(t, mustRun(t, db, "tasks", "move", "b", "--parent", "a"))
	if len(ups) != 1 || field[string](t, ups[0], "parent_id") != "a" || field[float64](t, ups[0], "position") != 10000 {
		t.Fatalf("reparent = %#v", ups)
	}

	ups = dataList(t, mustRun(t, db, "tasks", "move", "b", "--root", "--first"))
	if ups[0]["parent_id"] != nil || field[float64](t, ups[0], "position") != 9999 {
		t.Fatalf("to root = %#v", ups)
	}

	_, errOut, err := runCLI(t, []string{"--db", db, "tasks", "move", "a", "--parent", "b"})
	if err != nil {
		t.Fatalf("a under b: %v\n%s", err, errOut)
	}
	_, errOut, err = runCLI(t, []string{"--db", db, "tasks", "move", "b", "--parent", "a"})
	if err == nil || !strings.Contains(string(errOut), "cannot move b under a") {
		t.Fatalf("cycle: err=%v stderr=%s", err, errOut)
	}
}

func TestTasksMoveMissingTargetAppends(t *testing.T) {
	db := setupCLI(t)
	addTasks(t, db, "roof", "a", "b", "c")

	ups := dataList(t, mustRun(t, db, "tasks", "move", "a", "--after", "gone"))
	if len(ups) != 1 || ups[0]["parent_id"] != nil || field[float64](t, ups[0], "position") != 40000 {
		t.Fatalf("updates = %#v, want a appended at 40000", ups)
	}
	rows := dataList(t, mustRun(t, db, "tasks", "list", "--job", "roof"))
	if got := strings.Join(idsOf(t, rows), ","); got != "b,c,a" {
		t.Fatalf("order = %s", got)
	}
}

func TestTasksShow(t *testing.T) {
	db := setupCLI(t)
	addTasks(t, db, "roof", "a")
	mustRun(t, db, "tasks", "add", "--id", "c", "--parent", "a", "--title", "C")
	mustRun(t, db, "tasks", "add", "--id", "g", "--parent", "c", "--title", "G", "--description", "# Notes\n\nbring a ladder")

	env := mustRun(t, db, "tasks", "show", "g")
	meta := env["meta"].(map[string]any)
	anc := meta["ancestors"].([]any)
	if len(anc) != 2 || anc[0] != "a" || anc[1] != "c" {
		t.Fatalf("ancestors = %#v", anc)
	}
	env = mustRun(t, db, "tasks", "show", "a")
	kids := env["meta"].(map[string]any)["children"].([]any)
	if len(kids) != 1 || kids[0] != "c" {
		t.Fatalf("children = %#v", kids)
	}

	out, errOut, err := runCLI(t, []string{"--db", db, "--format", "text", "tasks", "show", "g", "--render"})
	if err != nil {
		t.Fatalf("render: %v\n%s", err, errOut)
	}
	plain := xansi.Strip(string(out))
	if !strings.Contains(plain, "title:    G") || !strings.Contains(plain, "bring a ladder") {
		t.Fatalf("rendered show:\n%s", out)
	}

	_, errOut, err = runCLI(t, []string{"--db", db, "tasks", "show", "zzz"})
	if err == nil || !strings.Contains(string(errOut), "task not found: zzz") {
		t.Fatalf("missing: err=%v stderr=%s", err, errOut)
	}
}

func TestTasksDeletePromotesChildren(t *testing.T) {
	db := setupCLI(t)
	addTasks(t, db, "roof", "a")
	mustRun(t, db, "tasks", "add", "--id", "c", "--parent", "a", "--title", "C")

	env := mustRun(t, db, "tasks", "delete", "a")
	if field[bool](t, env["data"].(map[string]any), "deleted") != true {
		t.Fatalf("delete = %#v", env)
	}
	rows := dataList(t, mustRun(t, db, "tasks", "list"))
	if len(rows) != 1 || field[string](t, rows[0], "id") != "c" || field[float64](t, rows[0], "depth") != 0 {
		t.Fatalf("rows = %#v", rows)
	}
	if _, _, err := runCLI(t, []string{"--db", db, "tasks", "delete", "a"}); err == nil {
		t.Fatalf("expected not found")
	}
}

const tightFixture = `tasks:
  - id: a
    job_id: roof
    title: A
    position: 1
  - id: b
    job_id: roof
    title: B
    position: 2
  - id: c
    job_id: roof
    title: C
    position: 3
`

func TestTasksImportAndRebalance(t *testing.T) {
	db := setupCLI(t)
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	if err := os.WriteFile(path, []byte(tightFixture), 0o644); err != nil {
		t.Fatal(err)
	}
	env := mustRun(t, db, "tasks", "import", path)
	if n := field[float64](t, env["data"].(map[string]any), "imported"); n != 3 {
		t.Fatalf("imported = %v", n)
	}

	checks := dataList(t, mustRun(t, db, "tasks", "rebalance", "--all", "--check"))
	if len(checks) != 1 || field[string](t, checks[0], "reason") != "gap" || field[float64](t, checks[0], "tasks") != 3 {
		t.Fatalf("check = %#v", checks)
	}

	ups := dataList(t, mustRun(t, db, "tasks", "rebalance", "--job", "roof"))
	pos := positionsByID(t, ups)
	if pos["a"] != 10000 || pos["b"] != 20000 || pos["c"] != 30000 {
		t.Fatalf("rebalance = %v", pos)
	}

	ups = dataList(t, mustRun(t, db, "tasks", "rebalance", "--all"))
	if len(ups) != 0 {
		t.Fatalf("second pass rewrote %d rows", len(ups))
	}

	if _, errOut, err := runCLI(t, []string{"--db", db, "tasks", "rebalance"}); err == nil || !strings.Contains(string(errOut), "missing --job") {
		t.Fatalf("no scope: err=%v stderr=%s", err, errOut)
	}
}

func TestTasksExportImportRoundTrip(t *testing.T) {
	db := setupCLI(t)
	addTasks(t, db, "roof", "a", "b")
	addTasks(t, db, "yard", "y")

	path := filepath.Join(t.TempDir(), "roof.yaml")
	mustRun(t, db, "tasks", "export", "--job", "roof", "--out", path)

	other := filepath.Join(t.TempDir(), "other.sqlite")
	mustRun(t, other, "tasks", "import", path)
	rows := dataList(t, mustRun(t, other, "tasks", "list"))
	if got := strings.Join(idsOf(t, rows), ","); got != "a,b" {
		t.Fatalf("imported outline = %s", got)
	}

	out, _, err := runCLI(t, []string{"--db", db, "tasks", "export"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "id: y") {
		t.Fatalf("stdout export:\n%s", out)
	}
}

func TestOfflineThenSync(t *testing.T) {
	db := setupCLI(t)
	addTasks(t, db, "roof", "a", "b")

	for _, id := range []string{"x", "y"} {
		env := mustRun(t, db, "--offline", "tasks", "add", "--id", id, "--job", "roof", "--title", id)
		if _, ok := env["_hints"]; !ok {
			t.Fatalf("offline add without hint: %#v", env)
		}
		if p := field[float64](t, env["data"].(map[string]any), "position"); p >= 10000 {
			t.Fatalf("provisional position = %v", p)
		}
	}

	ups := dataList(t, mustRun(t, db, "sync"))
	pos := positionsByID(t, ups)
	if len(ups) != 2 || pos["x"] != 30000 || pos["y"] != 40000 {
		t.Fatalf("sync = %#v", ups)
	}
	rows := dataList(t, mustRun(t, db, "tasks", "list"))
	if got := strings.Join(idsOf(t, rows), ","); got != "a,b,x,y" {
		t.Fatalf("order after sync = %s", got)
	}

	if ups := dataList(t, mustRun(t, db, "sync")); len(ups) != 0 {
		t.Fatalf("second sync = %#v", ups)
	}
}

func TestConfigSetAndShow(t *testing.T) {
	db := setupCLI(t)

	env := mustRun(t, db, "config", "set", "positioning.defaultSpacing", "500")
	pcfg := env["data"].(map[string]any)["positioning"].(map[string]any)
	if field[float64](t, pcfg, "defaultSpacing") != 500 || !field[bool](t, pcfg, "disableRandomization") {
		t.Fatalf("set = %#v", pcfg)
	}

	addTasks(t, db, "roof", "a", "b")
	rows := dataList(t, mustRun(t, db, "tasks", "list"))
	if pos := positionsByID(t, rows); pos["b"] != pos["a"]+500 {
		t.Fatalf("spacing not applied: %v", pos)
	}

	env = mustRun(t, db, "config", "show")
	if !strings.HasSuffix(field[string](t, env["meta"].(map[string]any), "path"), "config.jsonc") {
		t.Fatalf("show meta = %#v", env["meta"])
	}

	for _, args := range [][]string{
		{"config", "set", "nope", "1"},
		{"config", "set", "format", "xml"},
		{"config", "set", "positioning.randomRangePercent", "2"},
	} {
		if _, _, err := runCLI(t, append([]string{"--db", db}, args...)); err == nil {
			t.Fatalf("%v: expected error", args)
		}
	}
}

func TestFormats(t *testing.T) {
	db := setupCLI(t)
	addTasks(t, db, "roof", "a")

	out, _, err := runCLI(t, []string{"--db", db, "--format", "edn", "tasks", "show", "a"})
	if err != nil || !strings.Contains(string(out), `:job-id "roof"`) {
		t.Fatalf("edn: err=%v\n%s", err, out)
	}
	out, _, err = runCLI(t, []string{"--db", db, "--format", "yaml", "tasks", "show", "a"})
	if err != nil || !strings.Contains(string(out), "job_id: roof") {
		t.Fatalf("yaml: err=%v\n%s", err, out)
	}
	if _, _, err := runCLI(t, []string{"--db", db, "--format", "xml", "tasks", "list"}); err == nil {
		t.Fatalf("unknown format accepted")
	}
	t.Setenv("BOS_FORMAT", "text")
	out, _, err = runCLI(t, []string{"--db", db, "tasks", "show", "a"})
	if err != nil || !strings.Contains(string(out), "job:      roof") {
		t.Fatalf("env format: err=%v\n%s", err, out)
	}
}

func TestFeedRequiresRedis(t *testing.T) {
	db := setupCLI(t)
	for _, args := range [][]string{{"feed", "snapshot"}, {"feed", "listen"}} {
		_, errOut, err := runCLI(t, append([]string{"--db", db}, args...))
		if err == nil || !strings.Contains(string(errOut), "no change feed configured") {
			t.Fatalf("%v: err=%v stderr=%s", args, err, errOut)
		}
	}
}

func TestRedisFeedPublishAndSnapshot(t *testing.T) {
	db := setupCLI(t)
	srv := miniredis.RunT(t)
	url := "redis://" + srv.Addr() + "/0"

	mustRun(t, db, "--redis", url, "tasks", "add", "--id", "a", "--job", "roof", "--title", "A")
	mustRun(t, db, "--redis", url, "tasks", "add", "--id", "b", "--job", "roof", "--title", "B", "--first")
	mustRun(t, db, "--redis", url, "tasks", "add", "--id", "y", "--job", "yard", "--title", "Y")

	rows := dataList(t, mustRun(t, db, "--redis", url, "feed", "snapshot", "--job", "roof"))
	if got := strings.Join(idsOf(t, rows), ","); got != "b,a" {
		t.Fatalf("snapshot = %s", got)
	}

	mustRun(t, db, "--redis", url, "tasks", "delete", "b")
	rows = dataList(t, mustRun(t, db, "--redis", url, "feed", "snapshot", "--job", "roof"))
	if got := strings.Join(idsOf(t, rows), ","); got != "a" {
		t.Fatalf("snapshot after delete = %s", got)
	}
}

func TestRedisFeedListenApplies(t *testing.T) {
	db := setupCLI(t)
	srv := miniredis.RunT(t)
	url := "redis://" + srv.Addr() + "/0"

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		cmd := NewRootCmd()
		var outBuf, errBuf bytes.Buffer
		cmd.SetOut(&outBuf)
		cmd.SetErr(&errBuf)
		cmd.SetArgs([]string{"--db", db, "--redis", url, "feed", "listen", "--apply", "--count", "1"})
		err := cmd.Execute()
		done <- result{out: outBuf.Bytes(), err: err}
	}()

	pub, err := feed.NewRedisTransport(url)
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()
	remote := model.Task{ID: "r", JobID: "roof", Title: "Remote", Position: 5000, UpdatedAt: model.Now()}

	// Publish until the listener has subscribed and exits after its first change.
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	deadline := time.After(5 * time.Second)
	var res result
wait:
	for {
		select {
		case res = <-done:
			break wait
		case <-tick.C:
			if err := pub.Publish(context.Background(), feed.Upsert(remote, "elsewhere")); err != nil {
				t.Fatal(err)
			}
		case <-deadline:
			t.Fatal("listener did not receive the change")
		}
	}
	if res.err != nil {
		t.Fatalf("listen: %v", res.err)
	}
	var env map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(res.out), &env); err != nil {
		t.Fatalf("event output: %v\n%s", err, res.out)
	}
	if ev := env["data"].(map[string]any); ev["op"] != "upsert" || ev["id"] != "r" {
		t.Fatalf("event = %#v", ev)
	}

	rows := dataList(t, mustRun(t, db, "tasks", "list", "--job", "roof"))
	if got := strings.Join(idsOf(t, rows), ","); got != "r" {
		t.Fatalf("applied rows = %s", got)
	}
}
