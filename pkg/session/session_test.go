package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"shelfkeeper/pkg/datasource"
	"shelfkeeper/pkg/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var directory = StaticSource{
	{ID: 1, Username: "admin", Password: "admin123", DisplayName: "Admin", Email: "admin@example.com"},
	{ID: 2, Username: "clerk", Password: "clerk", DisplayName: "Clerk", Email: "clerk@example.com"},
}

func newStore(t *testing.T, creds CredentialSource, p Persister) *Store {
	t.Helper()
	s, err := New(Config{Credentials: creds, Persister: p, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

type failingSource struct{}

func (failingSource) Credentials(context.Context, string, string) ([]domain.CredentialRecord, error) {
	return nil, errors.New("directory unavailable")
}

func TestLoginScenario(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, directory, NewMemoryPersister())

	if s.IsAuthenticated() {
		t.Fatalf("fresh store must be empty")
	}
	if !s.Login(ctx, "admin", "admin123") {
		t.Fatalf("expected login to succeed")
	}
	if !s.IsAuthenticated() {
		t.Fatalf("expected authenticated after login")
	}
	before, _ := s.CurrentIdentity()

	if s.Login(ctx, "admin", "wrong") {
		t.Fatalf("expected wrong password to fail")
	}
	after, ok := s.CurrentIdentity()
	if !ok || after != before {
		t.Fatalf("failed login changed state: %+v -> %+v", before, after)
	}
}

func TestLoginIsCaseSensitive(t *testing.T) {
	s := newStore(t, directory, NewMemoryPersister())
	if s.Login(context.Background(), "Admin", "admin123") {
		t.Fatalf("username match must be case-sensitive")
	}
	if s.Login(context.Background(), "admin", "ADMIN123") {
		t.Fatalf("password match must be case-sensitive")
	}
}

func TestLoginMatchesRecordsWithEmptyFields(t *testing.T) {
	ctx := context.Background()
	kiosk := StaticSource{{ID: 7, Username: "kiosk", Password: "", DisplayName: "Kiosk"}}
	s := newStore(t, kiosk, NewMemoryPersister())

	if s.Login(ctx, "", "") {
		t.Fatalf("empty username has no record")
	}
	if s.Login(ctx, "kiosk", "x") {
		t.Fatalf("kiosk password is empty")
	}
	if !s.Login(ctx, "kiosk", "") {
		t.Fatalf("record with empty password must match")
	}
	if identity, _ := s.CurrentIdentity(); identity.ID != 7 {
		t.Fatalf("identity = %+v", identity)
	}
}

func TestLoginDirectoryFailureLooksLikeMismatch(t *testing.T) {
	s := newStore(t, failingSource{}, NewMemoryPersister())
	if s.Login(context.Background(), "admin", "admin123") {
		t.Fatalf("expected false when the directory is unavailable")
	}
	if s.IsAuthenticated() {
		t.Fatalf("state must stay empty")
	}
	if _, err := s.lookup(context.Background(), "admin", "admin123"); !errors.Is(err, ErrCredentialMismatch) {
		t.Fatalf("expected ErrCredentialMismatch, got %v", err)
	}
}

func TestRestoreAfterLoginYieldsSameIdentity(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPersister()
	first := newStore(t, directory, p)
	if !first.Login(ctx, "admin", "admin123") {
		t.Fatalf("login failed")
	}
	want, _ := first.CurrentIdentity()

	data, ok, _ := p.Load(ctx)
	if !ok {
		t.Fatalf("expected persisted session")
	}
	if string(data) != `{"id":1,"username":"admin","displayName":"Admin","email":"admin@example.com"}` {
		t.Fatalf("unexpected persisted form %s", data)
	}

	second := newStore(t, failingSource{}, p)
	if !second.Restore(ctx) {
		t.Fatalf("expected restore to succeed without the directory")
	}
	got, _ := second.CurrentIdentity()
	if got != want {
		t.Fatalf("restored %+v, want %+v", got, want)
	}
}

func TestLogoutThenRestoreIsEmpty(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPersister()
	s := newStore(t, directory, p)
	s.Login(ctx, "admin", "admin123")
	s.Logout(ctx)
	if s.IsAuthenticated() {
		t.Fatalf("expected empty after logout")
	}
	if _, ok, _ := p.Load(ctx); ok {
		t.Fatalf("logout must erase the persisted form")
	}
	if s.Restore(ctx) || s.IsAuthenticated() {
		t.Fatalf("restore after logout must stay empty")
	}
	// Logout without a session still succeeds.
	s.Logout(ctx)
}

func TestRestoreClearsCorruptForms(t *testing.T) {
	ctx := context.Background()
	for name, raw := range map[string]string{
		"garbage":       `{not json`,
		"with password": `{"id":1,"username":"admin","password":"admin123"}`,
		"missing id":    `{"username":"admin"}`,
		"null":          `null`,
		"trailing":      `{"id":1,"username":"admin"} {}`,
	} {
		t.Run(name, func(t *testing.T) {
			p := NewMemoryPersister()
			_ = p.Save(ctx, []byte(raw))
			s := newStore(t, directory, p)
			if s.Restore(ctx) {
				t.Fatalf("restore must fail open")
			}
			if _, ok, _ := p.Load(ctx); ok {
				t.Fatalf("corrupt form must be cleared")
			}
		})
	}
}

func TestAuthenticatedTracksLastTransition(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPersister()
	s := newStore(t, directory, p)
	steps := []struct {
		name string
		run  func()
		want bool
	}{
		{"restore empty", func() { s.Restore(ctx) }, false},
		{"login", func() { s.Login(ctx, "clerk", "clerk") }, true},
		{"bad login keeps state", func() { s.Login(ctx, "clerk", "nope") }, true},
		{"restore", func() { s.Restore(ctx) }, true},
		{"logout", func() { s.Logout(ctx) }, false},
		{"bad login while empty", func() { s.Login(ctx, "x", "y") }, false},
		{"restore after logout", func() { s.Restore(ctx) }, false},
		{"login again", func() { s.Login(ctx, "admin", "admin123") }, true},
	}
	for _, step := range steps {
		step.run()
		if got := s.IsAuthenticated(); got != step.want {
			t.Fatalf("%s: authenticated = %v, want %v", step.name, got, step.want)
		}
	}
}

type blockingSource struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (b *blockingSource) Credentials(ctx context.Context, u, p string) ([]domain.CredentialRecord, error) {
	b.mu.Lock()
	b.calls++
	first := b.calls == 1
	b.mu.Unlock()
	if first {
		<-b.release
	}
	return directory.Credentials(ctx, u, p)
}

func TestConcurrentLoginsAreQueued(t *testing.T) {
	ctx := context.Background()
	src := &blockingSource{release: make(chan struct{})}
	s := newStore(t, src, NewMemoryPersister())

	var wg sync.WaitGroup
	results := make(chan bool, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results <- s.Login(ctx, "admin", "admin123")
	}()
	// Wait until the first login is inside the directory lookup.
	deadline := time.Now().Add(2 * time.Second)
	for {
		src.mu.Lock()
		n := src.calls
		src.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("first login never reached the directory")
		}
		time.Sleep(time.Millisecond)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		results <- s.Login(ctx, "clerk", "clerk")
	}()
	time.Sleep(20 * time.Millisecond)
	src.mu.Lock()
	calls := src.calls
	src.mu.Unlock()
	if calls != 1 {
		t.Fatalf("second login must wait for the first, directory calls = %d", calls)
	}

	close(src.release)
	wg.Wait()
	close(results)
	for ok := range results {
		if !ok {
			t.Fatalf("both queued logins should succeed")
		}
	}
	got, _ := s.CurrentIdentity()
	if got.Username != "clerk" {
		t.Fatalf("last completed login should win, got %q", got.Username)
	}
}

func TestLoginCancelledWhileQueued(t *testing.T) {
	src := &blockingSource{release: make(chan struct{})}
	s := newStore(t, src, NewMemoryPersister())
	done := make(chan struct{})
	go func() {
		s.Login(context.Background(), "admin", "admin123")
		close(done)
	}()
	for {
		src.mu.Lock()
		n := src.calls
		src.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if s.Login(ctx, "clerk", "clerk") {
		t.Fatalf("queued login with expired context must fail")
	}
	close(src.release)
	<-done
	got, _ := s.CurrentIdentity()
	if got.Username != "admin" {
		t.Fatalf("expected admin, got %q", got.Username)
	}
}

func TestSubscribeSeesTransitions(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, directory, NewMemoryPersister())
	var seen []bool
	s.Subscribe(func(v bool) { seen = append(seen, v) })
	s.Login(ctx, "admin", "admin123")
	s.Login(ctx, "admin", "bad")
	s.Logout(ctx)
	if len(seen) != 2 || !seen[0] || seen[1] {
		t.Fatalf("unexpected notifications %v", seen)
	}
}

type failingPersister struct{ MemoryPersister }

func (f *failingPersister) Save(context.Context, []byte) error { return errors.New("disk full") }

func TestPersistFailureKeepsIdentity(t *testing.T) {
	s := newStore(t, directory, &failingPersister{})
	if !s.Login(context.Background(), "admin", "admin123") || !s.IsAuthenticated() {
		t.Fatalf("persist failure must not undo a successful login")
	}
}

func TestDirectorySourceOverGateway(t *testing.T) {
	dir := t.TempDir()
	users := `[{"id":1,"username":"admin","password":"admin123","displayName":"Admin","email":"a@x"},` +
		`{"id":2,"username":"admin","password":"other","displayName":"Shadow","email":"b@x"}]`
	if err := os.WriteFile(filepath.Join(dir, "users.json"), []byte(users), 0o644); err != nil {
		t.Fatalf("write users: %v", err)
	}
	g := datasource.NewGateway(datasource.ModeLocal, datasource.NewDirSource(dir), nil, quietLogger())
	s := newStore(t, NewDirectorySource(g), NewMemoryPersister())
	if !s.Login(context.Background(), "admin", "admin123") {
		t.Fatalf("expected login through the gateway")
	}
	got, _ := s.CurrentIdentity()
	if got.ID != 1 || got.DisplayName != "Admin" {
		t.Fatalf("unexpected identity %+v", got)
	}

	empty := newStore(t, NewDirectorySource(datasource.NewGateway(datasource.ModeLocal, datasource.NewDirSource(t.TempDir()), nil, quietLogger())), NewMemoryPersister())
	if empty.Login(context.Background(), "admin", "admin123") {
		t.Fatalf("missing users collection must fail login")
	}
}

func TestPersisters(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	filePersister, err := NewFilePersister(filepath.Join(t.TempDir(), "state", "session.json"))
	if err != nil {
		t.Fatalf("file persister: %v", err)
	}
	sqlitePersister, err := NewSQLitePersister(filepath.Join(t.TempDir(), "session.db"), "")
	if err != nil {
		t.Fatalf("sqlite persister: %v", err)
	}
	t.Cleanup(func() { _ = sqlitePersister.Close() })
	redisPersister, err := NewRedisPersister(mr.Addr(), "", "test:session")
	if err != nil {
		t.Fatalf("redis persister: %v", err)
	}
	t.Cleanup(func() { _ = redisPersister.Close() })

	for name, p := range map[string]Persister{
		"memory": NewMemoryPersister(),
		"file":   filePersister,
		"sqlite": sqlitePersister,
		"redis":  redisPersister,
	} {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := p.Load(ctx); ok || err != nil {
				t.Fatalf("expected empty persister, ok=%v err=%v", ok, err)
			}
			if err := p.Clear(ctx); err != nil {
				t.Fatalf("clearing an empty persister: %v", err)
			}
			first := newStore(t, directory, p)
			if !first.Login(ctx, "admin", "admin123") {
				t.Fatalf("login failed")
			}
			second := newStore(t, directory, p)
			if !second.Restore(ctx) {
				t.Fatalf("restore failed")
			}
			second.Logout(ctx)
			if _, ok, _ := p.Load(ctx); ok {
				t.Fatalf("expected cleared after logout")
			}
		})
	}

	if mr.Exists("test:session") {
		t.Fatalf("redis key should be deleted after logout")
	}
}
