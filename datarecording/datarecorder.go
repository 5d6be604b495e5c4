// Package datarecording stores what happened to an agency in a database.
package datarecording

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/fatih/structs"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// DataRecorder is a backend that can record and store data
type DataRecorder interface {
	// CreateTable creates a new table shaped like sampleEntry.
	CreateTable(tableName string, sampleEntry any)

	// InsertData buffers an entry for a table that already exists.
	InsertData(tableName string, entry any)

	// ListTables returns the names of the tables created so far.
	ListTables() []string

	// Flush writes every buffered entry into the database.
	Flush()

	// Close flushes and closes the database.
	Close() error
}

// ErrFileExists is returned when a new recording would overwrite a file.
var ErrFileExists = errors.New("recording file already exists")

// New creates a DataRecorder writing to path.sqlite3. An empty path picks a
// unique name.
func New(path string) (DataRecorder, error) {
	if path == "" {
		path = "agency_recording_" + xid.New().String()
	}

	filename := path + ".sqlite3"
	if _, err := os.Stat(filename); err == nil {
		return nil, fmt.Errorf("%s: %w", filename, ErrFileExists)
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(os.Stderr, "Database created for recording: %s\n", filename)

	return NewWithDB(db), nil
}

// NewWithDB creates a DataRecorder with a given database. Buffered entries
// are flushed when the program exits through atexit.
func NewWithDB(db *sql.DB) DataRecorder {
	w := &sqliteWriter{
		DB:        db,
		batchSize: 100000,
		tables:    make(map[string]*table),
	}

	atexit.Register(func() { w.Flush() })

	return w
}

type table struct {
	structType reflect.Type
	entries    []any
}

// sqliteWriter is the writer that writes data into SQLite database
type sqliteWriter struct {
	*sql.DB

	lock       sync.Mutex
	tables     map[string]*table
	batchSize  int
	entryCount int
	closed     bool
}

func isAllowedKind(kind reflect.Kind) bool {
	switch kind {
	case
		reflect.Bool,
		reflect.Int,
		reflect.Int8,
		reflect.Int16,
		reflect.Int32,
		reflect.Int64,
		reflect.Uint,
		reflect.Uint8,
		reflect.Uint16,
		reflect.Uint32,
		reflect.Uint64,
		reflect.Float32,
		reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}

func checkStructFields(entry any) error {
	t := reflect.TypeOf(entry)
	if t.Kind() != reflect.Struct {
		return fmt.Errorf("entry of kind %s is not a struct", t.Kind())
	}

	for i := range t.NumField() {
		field := t.Field(i)
		if !field.IsExported() || !isAllowedKind(field.Type.Kind()) {
			return fmt.Errorf("field %s of %s cannot be recorded",
				field.Name, t)
		}
	}

	return nil
}

func (w *sqliteWriter) CreateTable(tableName string, sampleEntry any) {
	if err := checkStructFields(sampleEntry); err != nil {
		panic(err)
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	fields := strings.Join(structs.Names(sampleEntry), ", \n\t")
	w.mustExecute(`CREATE TABLE ` + tableName +
		` (` + "\n\t" + fields + "\n" + `);`)

	w.tables[tableName] = &table{
		structType: reflect.TypeOf(sampleEntry),
	}
}

func (w *sqliteWriter) InsertData(tableName string, entry any) {
	w.lock.Lock()
	defer w.lock.Unlock()

	t, exists := w.tables[tableName]
	if !exists {
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	if reflect.TypeOf(entry) != t.structType {
		panic(fmt.Sprintf("entry of type %T does not fit table %s",
			entry, tableName))
	}

	t.entries = append(t.entries, entry)

	w.entryCount++
	if w.entryCount >= w.batchSize {
		w.flush()
	}
}

func (w *sqliteWriter) ListTables() []string {
	w.lock.Lock()
	defer w.lock.Unlock()

	names := make([]string, 0, len(w.tables))
	for name := range w.tables {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

func (w *sqliteWriter) Flush() {
	w.lock.Lock()
	defer w.lock.Unlock()

	w.flush()
}

func (w *sqliteWriter) Close() error {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.closed {
		return nil
	}

	w.flush()
	w.closed = true

	return w.DB.Close()
}

func (w *sqliteWriter) flush() {
	if w.entryCount == 0 || w.closed {
		return
	}

	w.mustExecute("BEGIN TRANSACTION")
	defer w.mustExecute("COMMIT TRANSACTION")

	for tableName, t := range w.tables {
		if len(t.entries) == 0 {
			continue
		}

		stmt := w.prepareStatement(tableName, t.entries[0])

		for _, entry := range t.entries {
			v := reflect.ValueOf(entry)

			values := make([]any, 0, v.NumField())
			for i := range v.NumField() {
				values = append(values, v.Field(i).Interface())
			}

			if _, err := stmt.Exec(values...); err != nil {
				panic(err)
			}
		}

		t.entries = nil

		stmt.Close()
	}

	w.entryCount = 0
}

func (w *sqliteWriter) mustExecute(query string) sql.Result {
	res, err := w.Exec(query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute: %s\n", query)
		panic(err)
	}

	return res
}

func (w *sqliteWriter) prepareStatement(table string, entry any) *sql.Stmt {
	placeholders := structs.Names(entry)
	for i := range placeholders {
		placeholders[i] = "?"
	}

	stmt, err := w.Prepare("INSERT INTO " + table +
		" VALUES (" + strings.Join(placeholders, ", ") + ")")
	if err != nil {
		panic(err)
	}

	return stmt
}
