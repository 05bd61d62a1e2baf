// Package sqlite provides the SQLite-backed match store
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ChrisMcGann/psvalidate/pkg/core"
	"github.com/ChrisMcGann/psvalidate/pkg/repository"
)

const (
	// Date format for HeaderTable (ISO 8601)
	headerDateFormat = "2006-01-02"

	schemaVersion = 1
)

// Store keeps matches, spectra and proteins in one SQLite file. Every write
// happens inside the current transaction; Commit ends it and starts the next.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	tx   *sql.Tx
	path string

	// statements bound to tx, prepared on first use
	txStmts map[*sql.Stmt]*sql.Stmt

	getStmt     *sql.Stmt
	putStmt     *sql.Stmt
	deleteStmt  *sql.Stmt
	keysStmt    *sql.Stmt
	sizeStmt    *sql.Stmt
	spectrumPut *sql.Stmt
	spectrumGet *sql.Stmt
	proteinPut  *sql.Stmt
	proteinGet  *sql.Stmt
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps the open transaction visible to every read
	db.SetMaxOpenConns(1)

	s := &Store{
		db:   db,
		path: path,
	}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.begin(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// createTables creates the required database schema
func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS MatchTable (
		Kind TEXT NOT NULL,
		MatchKey TEXT NOT NULL,
		Data BLOB NOT NULL,
		PRIMARY KEY (Kind, MatchKey)
	);

	CREATE TABLE IF NOT EXISTS MetadataTable (
		Name TEXT PRIMARY KEY,
		Data BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS SpectrumTable (
		Title TEXT PRIMARY KEY,
		PrecursorMass DOUBLE,
		Charge INTEGER,
		RetentionTime DOUBLE,
		SourceFile TEXT,
		blobMass BLOB,
		blobIntensity BLOB
	);

	CREATE TABLE IF NOT EXISTS ProteinTable (
		Accession TEXT PRIMARY KEY,
		Description TEXT,
		Sequence TEXT NOT NULL,
		Decoy BOOL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS HeaderTable (
		version INTEGER NOT NULL DEFAULT 0,
		CreationDate TEXT,
		LastModifiedDate TEXT
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM HeaderTable`).Scan(&n); err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	if n == 0 {
		now := time.Now().Format(headerDateFormat)
		if _, err := s.db.Exec(`INSERT INTO HeaderTable (version, CreationDate, LastModifiedDate) VALUES (?, ?, ?)`,
			schemaVersion, now, now); err != nil {
			return fmt.Errorf("failed to insert header: %w", err)
		}
	}

	return nil
}

// prepareStatements prepares the SQL statements used by every transaction
func (s *Store) prepareStatements() error {
	stmts := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.getStmt, `SELECT Data FROM MatchTable WHERE Kind = ? AND MatchKey = ?`},
		{&s.putStmt, `INSERT OR REPLACE INTO MatchTable (Kind, MatchKey, Data) VALUES (?, ?, ?)`},
		{&s.deleteStmt, `DELETE FROM MatchTable WHERE Kind = ? AND MatchKey = ?`},
		{&s.keysStmt, `SELECT MatchKey FROM MatchTable WHERE Kind = ? ORDER BY MatchKey`},
		{&s.sizeStmt, `SELECT COUNT(*) FROM MatchTable WHERE Kind = ?`},
		{&s.spectrumPut, `
			INSERT OR REPLACE INTO SpectrumTable (
				Title, PrecursorMass, Charge, RetentionTime, SourceFile, blobMass, blobIntensity
			) VALUES (?, ?, ?, ?, ?, ?, ?)`},
		{&s.spectrumGet, `
			SELECT PrecursorMass, Charge, RetentionTime, SourceFile, blobMass, blobIntensity
			FROM SpectrumTable WHERE Title = ?`},
		{&s.proteinPut, `INSERT OR REPLACE INTO ProteinTable (Accession, Description, Sequence, Decoy) VALUES (?, ?, ?, ?)`},
		{&s.proteinGet, `SELECT Description, Sequence, Decoy FROM ProteinTable WHERE Accession = ?`},
	}

	for _, st := range stmts {
		stmt, err := s.db.Prepare(st.query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		*st.dst = stmt
	}
	return nil
}

// begin opens the next transaction. It outlives any caller context: a
// transaction begun with a cancelled context is rolled back by database/sql.
func (s *Store) begin(ctx context.Context) error {
	tx, err := s.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		s.tx = nil
		return &repository.StoreError{Op: "begin", Err: err}
	}
	s.tx = tx
	s.txStmts = make(map[*sql.Stmt]*sql.Stmt)
	return nil
}

// stmt returns st bound to the current transaction. Bound statements are
// closed by the transaction's commit or rollback.
func (s *Store) stmt(op string, st *sql.Stmt) (*sql.Stmt, error) {
	if s.tx == nil {
		return nil, &repository.StoreError{Op: op, Err: errors.New("store is closed")}
	}
	bound, ok := s.txStmts[st]
	if !ok {
		bound = s.tx.Stmt(st)
		s.txStmts[st] = bound
	}
	return bound, nil
}

func (s *Store) Get(ctx context.Context, kind repository.Kind, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stmt("get", s.getStmt)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = st.QueryRowContext(ctx, string(kind), key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", kind, key, repository.ErrNotFound)
	}
	if err != nil {
		return nil, &repository.StoreError{Op: "get", Kind: kind, Key: key, Err: err}
	}
	return data, nil
}

func (s *Store) Put(ctx context.Context, kind repository.Kind, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stmt("put", s.putStmt)
	if err != nil {
		return err
	}
	if _, err := st.ExecContext(ctx, string(kind), key, data); err != nil {
		return &repository.StoreError{Op: "put", Kind: kind, Key: key, Err: err}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, kind repository.Kind, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stmt("delete", s.deleteStmt)
	if err != nil {
		return err
	}
	if _, err := st.ExecContext(ctx, string(kind), key); err != nil {
		return &repository.StoreError{Op: "delete", Kind: kind, Key: key, Err: err}
	}
	return nil
}

func (s *Store) Keys(ctx context.Context, kind repository.Kind) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stmt("keys", s.keysStmt)
	if err != nil {
		return nil, err
	}
	rows, err := st.QueryContext(ctx, string(kind))
	if err != nil {
		return nil, &repository.StoreError{Op: "keys", Kind: kind, Err: err}
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, &repository.StoreError{Op: "keys", Kind: kind, Err: err}
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, &repository.StoreError{Op: "keys", Kind: kind, Err: err}
	}
	return keys, nil
}

func (s *Store) Size(ctx context.Context, kind repository.Kind) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stmt("size", s.sizeStmt)
	if err != nil {
		return 0, err
	}
	var n int
	if err := st.QueryRowContext(ctx, string(kind)).Scan(&n); err != nil {
		return 0, &repository.StoreError{Op: "size", Kind: kind, Err: err}
	}
	return n, nil
}

func (s *Store) GetMeta(ctx context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return nil, &repository.StoreError{Op: "get meta", Err: errors.New("store is closed")}
	}
	var data []byte
	err := s.tx.QueryRowContext(ctx, `SELECT Data FROM MetadataTable WHERE Name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("metadata %s: %w", name, repository.ErrNotFound)
	}
	if err != nil {
		return nil, &repository.StoreError{Op: "get meta", Key: name, Err: err}
	}
	return data, nil
}

func (s *Store) PutMeta(ctx context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return &repository.StoreError{Op: "put meta", Err: errors.New("store is closed")}
	}
	if _, err := s.tx.ExecContext(ctx, `INSERT OR REPLACE INTO MetadataTable (Name, Data) VALUES (?, ?)`, name, data); err != nil {
		return &repository.StoreError{Op: "put meta", Key: name, Err: err}
	}
	return nil
}

// Commit ends the current transaction and opens the next one.
func (s *Store) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return &repository.StoreError{Op: "commit", Err: errors.New("store is closed")}
	}
	if _, err := s.tx.ExecContext(ctx, `UPDATE HeaderTable SET LastModifiedDate = ?`, time.Now().Format(headerDateFormat)); err != nil {
		return &repository.StoreError{Op: "commit", Err: err}
	}
	if err := s.tx.Commit(); err != nil {
		s.tx = nil
		return &repository.StoreError{Op: "commit", Err: err}
	}
	return s.begin(ctx)
}

// Rollback drops the current transaction and opens the next one.
func (s *Store) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return &repository.StoreError{Op: "rollback", Err: errors.New("store is closed")}
	}
	if err := s.tx.Rollback(); err != nil {
		s.tx = nil
		return &repository.StoreError{Op: "rollback", Err: err}
	}
	return s.begin(ctx)
}

// PutSpectrum writes a spectrum with its peaks as little-endian float64 blobs.
func (s *Store) PutSpectrum(ctx context.Context, spec *core.Spectrum) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stmt("put spectrum", s.spectrumPut)
	if err != nil {
		return err
	}

	// Ensure peaks are sorted
	if !spec.ArePeaksSorted() {
		spec.SortPeaks()
	}

	mzBlob := encodePeaksFloat64(spec.Peaks, true)   // m/z values
	intBlob := encodePeaksFloat64(spec.Peaks, false) // intensity values

	// Handle optional retention time
	var rt interface{} = nil
	if spec.RetentionTime != nil {
		rt = *spec.RetentionTime
	}

	if _, err := st.ExecContext(ctx,
		spec.Title,
		spec.PrecursorMZ,
		spec.Charge,
		rt,
		spec.SourceFile,
		mzBlob,
		intBlob,
	); err != nil {
		return &repository.StoreError{Op: "put spectrum", Key: spec.Title, Err: err}
	}
	return nil
}

// Spectrum reads a spectrum back by title.
func (s *Store) Spectrum(ctx context.Context, title string) (*core.Spectrum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stmt("get spectrum", s.spectrumGet)
	if err != nil {
		return nil, err
	}

	spec := &core.Spectrum{Title: title}
	var rt sql.NullFloat64
	var source sql.NullString
	var mzBlob, intBlob []byte
	err = st.QueryRowContext(ctx, title).Scan(&spec.PrecursorMZ, &spec.Charge, &rt, &source, &mzBlob, &intBlob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("spectrum %s: %w", title, repository.ErrNotFound)
	}
	if err != nil {
		return nil, &repository.StoreError{Op: "get spectrum", Key: title, Err: err}
	}

	if rt.Valid {
		v := rt.Float64
		spec.RetentionTime = &v
	}
	spec.SourceFile = source.String

	peaks, err := decodePeaksFloat64(mzBlob, intBlob)
	if err != nil {
		return nil, fmt.Errorf("spectrum %s: %w", title, err)
	}
	spec.Peaks = peaks
	return spec, nil
}

// PutProtein writes a protein database entry.
func (s *Store) PutProtein(ctx context.Context, p repository.ProteinRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stmt("put protein", s.proteinPut)
	if err != nil {
		return err
	}
	if _, err := st.ExecContext(ctx, p.Accession, p.Description, p.Sequence, p.Decoy); err != nil {
		return &repository.StoreError{Op: "put protein", Key: p.Accession, Err: err}
	}
	return nil
}

// ProteinRecord reads a protein database entry.
func (s *Store) ProteinRecord(ctx context.Context, accession string) (*repository.ProteinRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stmt("get protein", s.proteinGet)
	if err != nil {
		return nil, err
	}
	p := &repository.ProteinRecord{Accession: accession}
	var desc sql.NullString
	err = st.QueryRowContext(ctx, accession).Scan(&desc, &p.Sequence, &p.Decoy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("protein %s: %w", accession, repository.ErrNotFound)
	}
	if err != nil {
		return nil, &repository.StoreError{Op: "get protein", Key: accession, Err: err}
	}
	p.Description = desc.String
	return p, nil
}

// ProteinAccessions lists every stored accession in order.
func (s *Store) ProteinAccessions(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return nil, &repository.StoreError{Op: "list proteins", Err: errors.New("store is closed")}
	}
	rows, err := s.tx.QueryContext(ctx, `SELECT Accession FROM ProteinTable ORDER BY Accession`)
	if err != nil {
		return nil, &repository.StoreError{Op: "list proteins", Err: err}
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var acc string
		if err := rows.Scan(&acc); err != nil {
			return nil, &repository.StoreError{Op: "list proteins", Err: err}
		}
		out = append(out, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, &repository.StoreError{Op: "list proteins", Err: err}
	}
	return out, nil
}

// encodePeaksFloat64 encodes peak data as little-endian float64 blob
func encodePeaksFloat64(peaks []core.Peak, useMZ bool) []byte {
	buf := make([]byte, len(peaks)*8)
	for i, peak := range peaks {
		var value float64
		if useMZ {
			value = peak.MZ
		} else {
			value = peak.Intensity
		}
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(value))
	}
	return buf
}

// decodePeaksFloat64 rebuilds peaks from the m/z and intensity blobs
func decodePeaksFloat64(mzBlob, intBlob []byte) ([]core.Peak, error) {
	if len(mzBlob)%8 != 0 || len(mzBlob) != len(intBlob) {
		return nil, fmt.Errorf("corrupt peak blobs: %d m/z bytes, %d intensity bytes", len(mzBlob), len(intBlob))
	}
	peaks := make([]core.Peak, len(mzBlob)/8)
	for i := range peaks {
		peaks[i].MZ = math.Float64frombits(binary.LittleEndian.Uint64(mzBlob[i*8:]))
		peaks[i].Intensity = math.Float64frombits(binary.LittleEndian.Uint64(intBlob[i*8:]))
	}
	return peaks, nil
}

// Close rolls back uncommitted writes and closes the database
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rbErr error
	if s.tx != nil {
		if err := s.tx.Rollback(); err != nil {
			rbErr = fmt.Errorf("failed to roll back: %w", err)
		}
		s.tx = nil
	}

	// Close prepared statements
	for _, st := range []*sql.Stmt{
		s.getStmt, s.putStmt, s.deleteStmt, s.keysStmt, s.sizeStmt,
		s.spectrumPut, s.spectrumGet, s.proteinPut, s.proteinGet,
	} {
		if st != nil {
			st.Close()
		}
	}

	// Close database
	if err := s.db.Close(); err != nil {
		return errors.Join(rbErr, fmt.Errorf("failed to close database: %w", err))
	}

	return rbErr
}

var _ repository.Backend = (*Store)(nil)
