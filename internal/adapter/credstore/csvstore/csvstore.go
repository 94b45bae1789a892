// Package csvstore persists bank credentials in a CSV file.
//
// It implements the credential store port over a single file with the
// column order alias,login_id,user_id,username,password,account_number.
// Writes are single-writer and atomic: the full set is rewritten to a
// temp file which replaces the original.
package csvstore

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/moshano/autobot/internal/domain"
)

var header = []string{"alias", "login_id", "user_id", "username", "password", "account_number"}

// Store reads and writes one credentials CSV file.
type Store struct {
	path     string
	mu       sync.Mutex
	validate *validator.Validate
}

// row mirrors one CSV record for validation.
type row struct {
	Alias         string `validate:"required,excludesall= "`
	Password      string `validate:"required"`
	AccountNumber string `validate:"required"`
}

// New constructs a Store over the file at path. The file may not exist
// yet; Append creates it with a header row.
func New(path string) *Store {
	return &Store{path: path, validate: validator.New()}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load reads every usable credential row. A file that does not exist yet
// is an empty store. Rows missing an alias, all three auth identities,
// the password or the account number are skipped with a warning so one
// bad row never takes the whole fleet down.
func (s *Store) Load(ctx domain.Context) ([]domain.Credential, error) {
	tracer := otel.Tracer("credstore.csv")
	_, span := tracer.Start(ctx, "credstore.Load")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "csv"),
		attribute.String("file.path", s.path),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	creds, err := s.readAll()
	if errors.Is(err, fs.ErrNotExist) {
		// First boot: the file appears with the first Append.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("op=credstore.load: %w", err)
	}
	return creds, nil
}

// Update sets one editable field on the row with the given alias and
// rewrites the file. Unknown fields are rejected, unknown aliases are
// not found, and an account number already held by another alias is a
// conflict naming that alias.
func (s *Store) Update(ctx domain.Context, alias, field, value string) error {
	tracer := otel.Tracer("credstore.csv")
	_, span := tracer.Start(ctx, "credstore.Update")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "csv"),
		attribute.String("credential.alias", alias),
		attribute.String("credential.field", field),
	)

	if !domain.EditableField(field) {
		return fmt.Errorf("op=credstore.update: field %q: %w", field, domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("op=credstore.update: empty value: %w", domain.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	creds, err := s.readAll()
	if err != nil {
		return fmt.Errorf("op=credstore.update: %w", err)
	}
	idx := -1
	for i, c := range creds {
		if c.Alias == alias {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("op=credstore.update: alias %q: %w", alias, domain.ErrNotFound)
	}
	if field == "account_number" {
		for _, c := range creds {
			if c.Alias != alias && c.AccountNumber == value {
				return fmt.Errorf("op=credstore.update: account number already on alias %q: %w", c.Alias, domain.ErrConflict)
			}
		}
	}
	switch field {
	case "login_id":
		creds[idx].LoginID = value
	case "user_id":
		creds[idx].UserID = value
	case "password":
		creds[idx].Password = value
	case "account_number":
		creds[idx].AccountNumber = value
	}
	if err := s.writeAll(creds); err != nil {
		return fmt.Errorf("op=credstore.update: %w", err)
	}
	slog.Info("credential updated", slog.String("alias", alias), slog.String("field", field))
	return nil
}

// Append adds a new credential row. Duplicate aliases and duplicate
// account numbers are conflicts.
func (s *Store) Append(ctx domain.Context, c domain.Credential) error {
	tracer := otel.Tracer("credstore.csv")
	_, span := tracer.Start(ctx, "credstore.Append")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "csv"),
		attribute.String("credential.alias", c.Alias),
	)

	if err := s.validate.Struct(row{Alias: c.Alias, Password: c.Password, AccountNumber: c.AccountNumber}); err != nil {
		return fmt.Errorf("op=credstore.append: %w: %w", domain.ErrInvalidArgument, err)
	}
	if c.AuthID() == "" {
		return fmt.Errorf("op=credstore.append: no login identity: %w", domain.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	creds, err := s.readAll()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("op=credstore.append: %w", err)
	}
	for _, have := range creds {
		if have.Alias == c.Alias {
			return fmt.Errorf("op=credstore.append: alias %q exists: %w", c.Alias, domain.ErrConflict)
		}
		if have.AccountNumber == c.AccountNumber {
			return fmt.Errorf("op=credstore.append: account number already on alias %q: %w", have.Alias, domain.ErrConflict)
		}
	}
	c.BankLabel = domain.LabelFromAlias(c.Alias)
	creds = append(creds, c)
	if err := s.writeAll(creds); err != nil {
		return fmt.Errorf("op=credstore.append: %w", err)
	}
	slog.Info("credential added", slog.String("alias", c.Alias), slog.String("bank", c.BankLabel))
	return nil
}

// readAll parses the file, padding or truncating ragged records to the
// header width. Caller holds the lock.
func (s *Store) readAll() ([]domain.Credential, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv parse: %w", err)
	}

	creds := make([]domain.Credential, 0, len(records))
	for i, rec := range records {
		if i == 0 && len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "alias") {
			continue
		}
		for len(rec) < len(header) {
			rec = append(rec, "")
		}
		rec = rec[:len(header)]
		for j := range rec {
			rec[j] = strings.TrimSpace(rec[j])
		}
		c := domain.Credential{
			Alias:         rec[0],
			LoginID:       rec[1],
			UserID:        rec[2],
			Username:      rec[3],
			Password:      rec[4],
			AccountNumber: rec[5],
		}
		if c.Alias == "" || c.AuthID() == "" || c.Password == "" || c.AccountNumber == "" {
			slog.Warn("skipping incomplete credential row",
				slog.Int("line", i+1), slog.String("alias", c.Alias))
			continue
		}
		c.BankLabel = domain.LabelFromAlias(c.Alias)
		creds = append(creds, c)
	}
	return creds, nil
}

// writeAll rewrites the whole file through a temp file in the same
// directory so readers never observe a half-written store. Caller holds
// the lock.
func (s *Store) writeAll(creds []domain.Credential) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".credentials-*.csv")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		_ = tmp.Close()
		return err
	}
	for _, c := range creds {
		rec := []string{c.Alias, c.LoginID, c.UserID, c.Username, c.Password, c.AccountNumber}
		if err := w.Write(rec); err != nil {
			_ = tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}
