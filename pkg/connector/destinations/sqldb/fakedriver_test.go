package sqldb

import (
	"database/sql"
	"database/sql/driver"
	stderrors "errors"
	"sync"
)

// recorder is a database/sql driver that records statements and
// transaction outcomes instead of talking to a database
type recorder struct {
	mu         sync.Mutex
	statements []string
	args       []driver.Value
	commits    int
	rollbacks  int
	failExec   bool
}

var errExec = stderrors.New("deadlock found when trying to get lock")

func (r *recorder) Open(name string) (driver.Conn, error) { return &fakeConn{r: r}, nil }

type fakeConn struct{ r *recorder }

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return &fakeStmt{r: c.r, query: query}, nil
}
func (c *fakeConn) Close() error              { return nil }
func (c *fakeConn) Begin() (driver.Tx, error) { return &fakeTx{r: c.r}, nil }

type fakeStmt struct {
	r     *recorder
	query string
}

func (s *fakeStmt) Close() error  { return nil }
func (s *fakeStmt) NumInput() int { return -1 }
func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if s.r.failExec && len(args) > 0 {
		return nil, errExec
	}
	s.r.statements = append(s.r.statements, s.query)
	s.r.args = append(s.r.args, args...)
	return driver.RowsAffected(1), nil
}
func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	return nil, stderrors.New("not supported")
}

type fakeTx struct{ r *recorder }

func (t *fakeTx) Commit() error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	t.r.commits++
	return nil
}

func (t *fakeTx) Rollback() error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	t.r.rollbacks++
	return nil
}

var registerOnce sync.Once

// newRecorder returns a fresh recorder behind its own *sql.DB
func newRecorder() (*recorder, *sql.DB) {
	r := &recorder{}
	registerOnce.Do(func() { sql.Register("lokitail-recorder", &switchDriver{}) })
	current.Store(r)
	db, _ := sql.Open("lokitail-recorder", "")
	return r, db
}

// switchDriver forwards to the recorder of the running test
type switchDriver struct{}

var current = &recorderRef{}

type recorderRef struct {
	mu sync.Mutex
	r  *recorder
}

func (ref *recorderRef) Store(r *recorder) {
	ref.mu.Lock()
	ref.r = r
	ref.mu.Unlock()
}

func (switchDriver) Open(name string) (driver.Conn, error) {
	current.mu.Lock()
	r := current.r
	current.mu.Unlock()
	return r.Open(name)
}
