// Package dbauth implements the login/registration collaborator: a
// semaphore-gated MySQL connection pool plus the user_verify operation the
// HTTP parser calls into for /login.html and /register.html submissions.
//
// This mirrors the original server's SqlConnPool + SqlConnRAII pair, with
// database/sql's own pool doing the connection management and an explicit
// semaphore reproducing the RAII "acquire blocks, release is deterministic"
// discipline the spec calls out in §6.
package dbauth

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// Verifier is the interface httpreq depends on, so the parser never binds
// to a concrete database.
type Verifier interface {
	Verify(name, password string, isLogin bool) bool
}

// Config holds the collaborator's connection parameters (see spec §6).
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	PoolSize int
}

// Pool is a semaphore-gated fixed-size pool of MySQL connections.
type Pool struct {
	db  *sql.DB
	sem chan struct{}
}

// Open connects to MySQL and sizes both database/sql's pool and the
// acquisition semaphore to cfg.PoolSize.
func Open(cfg Config) (*Pool, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.PoolSize)

	p := &Pool{db: db, sem: make(chan struct{}, cfg.PoolSize)}
	for i := 0; i < cfg.PoolSize; i++ {
		p.sem <- struct{}{}
	}
	return p, nil
}

// Close closes the underlying database handle.
func (p *Pool) Close() error { return p.db.Close() }

// acquire blocks until a connection slot is free and returns a release
// function the caller must invoke exactly once (the scoped-acquisition
// discipline of the original SqlConnRAII).
func (p *Pool) acquire(ctx context.Context) (func(), error) {
	select {
	case <-p.sem:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return func() { p.sem <- struct{}{} }, nil
}

// Verify implements Verifier. For login it reports whether a matching
// (username, password) row exists; for register it inserts a new row iff
// the username does not already exist. Empty name or password always
// yields false.
func (p *Pool) Verify(name, password string, isLogin bool) bool {
	if name == "" || password == "" {
		return false
	}
	ctx := context.Background()
	release, err := p.acquire(ctx)
	if err != nil {
		return false
	}
	defer release()

	var storedPassword string
	err = p.db.QueryRowContext(ctx, "SELECT password FROM user WHERE username = ? LIMIT 1", name).Scan(&storedPassword)
	switch {
	case err == sql.ErrNoRows:
		if isLogin {
			return false
		}
		_, err := p.db.ExecContext(ctx, "INSERT INTO user(username, password) VALUES (?, ?)", name, password)
		return err == nil
	case err != nil:
		return false
	default:
		if isLogin {
			return storedPassword == password
		}
		// Register against an existing username always fails.
		return false
	}
}
