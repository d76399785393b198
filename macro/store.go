package macro

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"macrostudio/models"
)

// ErrNotFound is returned when a macro ID has no stored entry.
var ErrNotFound = errors.New("macro not found")

// Store is the sqlite-backed macro library. Documents are validated before
// every write, so anything read back is safe to run.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create validates and stores a new macro, returning it with its assigned ID.
func (s *Store) Create(def *models.MacroDefinition, description string) (*models.Macro, error) {
	if err := Validate(def); err != nil {
		return nil, err
	}

	doc, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("failed to encode macro: %w", err)
	}

	now := time.Now().Unix()
	m := &models.Macro{
		ID:          uuid.NewString(),
		Name:        def.Name,
		Description: description,
		Definition:  def,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = s.db.Exec(
		`INSERT INTO macros (id, name, description, document, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Description, string(doc), m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store macro: %w", err)
	}
	return m, nil
}

// Update validates and replaces the stored document for an existing macro.
func (s *Store) Update(id string, def *models.MacroDefinition, description string) (*models.Macro, error) {
	if err := Validate(def); err != nil {
		return nil, err
	}

	doc, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("failed to encode macro: %w", err)
	}

	now := time.Now().Unix()
	res, err := s.db.Exec(
		`UPDATE macros SET name = ?, description = ?, document = ?, updated_at = ? WHERE id = ?`,
		def.Name, description, string(doc), now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update macro: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(id)
}

// Get loads one macro with its full document.
func (s *Store) Get(id string) (*models.Macro, error) {
	row := s.db.QueryRow(
		`SELECT id, name, description, document, created_at, updated_at FROM macros WHERE id = ?`, id)
	return scanMacro(row)
}

// List returns all stored macros, newest first.
func (s *Store) List() ([]*models.Macro, error) {
	rows, err := s.db.Query(
		`SELECT id, name, description, document, created_at, updated_at
		 FROM macros ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list macros: %w", err)
	}
	defer rows.Close()

	macros := make([]*models.Macro, 0)
	for rows.Next() {
		m, err := scanMacro(rows)
		if err != nil {
			return nil, err
		}
		macros = append(macros, m)
	}
	return macros, rows.Err()
}

// Delete removes a macro from the library.
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM macros WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete macro: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMacro(row rowScanner) (*models.Macro, error) {
	var m models.Macro
	var doc string
	err := row.Scan(&m.ID, &m.Name, &m.Description, &doc, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read macro: %w", err)
	}

	def, err := Parse([]byte(doc))
	if err != nil {
		return nil, fmt.Errorf("stored macro %s is corrupt: %w", m.ID, err)
	}
	m.Definition = def
	return &m, nil
}
