package api

import (
	"time"

	"github.com/asdine/storm"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// Command sources recorded in the journal
const (
	SourceConsole = "console"
	SourceAPI     = "api"
)

// Entry is one executed command line
type Entry struct {
	ID       int       `storm:"increment" json:"id"`
	Time     time.Time `json:"time"`
	Source   string    `json:"source"`
	Line     string    `json:"line"`
	Response string    `json:"response,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Journal keeps executed commands in a bolt database
type Journal struct {
	db    *storm.DB
	clock clock.Clock
}

// OpenJournal opens or creates the database at path
func OpenJournal(path string, clk clock.Clock) (*Journal, error) {
	db, err := storm.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %s", path)
	}
	if err := db.Init(&Entry{}); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "init journal")
	}
	return &Journal{db: db, clock: clk}, nil
}

// Record stores a command and its outcome
func (j *Journal) Record(source, line, response string, cmdErr error) error {
	e := Entry{
		Time:     j.clock.Now().UTC(),
		Source:   source,
		Line:     line,
		Response: response,
	}
	if cmdErr != nil {
		e.Error = cmdErr.Error()
	}
	return errors.Wrap(j.db.Save(&e), "journal")
}

// Recent returns up to n entries, newest first
func (j *Journal) Recent(n int) ([]Entry, error) {
	var entries []Entry
	err := j.db.All(&entries, storm.Limit(n), storm.Reverse())
	if err != nil && err != storm.ErrNotFound {
		return nil, errors.Wrap(err, "journal")
	}
	return entries, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}
