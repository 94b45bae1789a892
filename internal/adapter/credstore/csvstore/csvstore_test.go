package csvstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/moshano/autobot/internal/domain"
)

func writeStore(t *testing.T, content string) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.csv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return New(path)
}

const sample = `alias,login_id,user_id,username,password,account_number
alpha_tmb,LID1,,,pw1,111
beta_iob,,UID2,,pw2,222
gamma_iobcorp,,,corpuser,pw3,333
`

func TestLoad(t *testing.T) {
	s := writeStore(t, sample)
	creds, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(creds) != 3 {
		t.Fatalf("len = %d, want 3", len(creds))
	}
	if creds[0].BankLabel != "TMB" || creds[1].BankLabel != "IOB" || creds[2].BankLabel != "IOB CORPORATE" {
		t.Errorf("bank labels = %s, %s, %s", creds[0].BankLabel, creds[1].BankLabel, creds[2].BankLabel)
	}
	if creds[0].AuthID() != "LID1" || creds[1].AuthID() != "UID2" || creds[2].AuthID() != "corpuser" {
		t.Errorf("auth ids = %s, %s, %s", creds[0].AuthID(), creds[1].AuthID(), creds[2].AuthID())
	}
}

func TestLoadMissingFileIsEmptyStore(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "credentials.csv"))
	creds, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(creds) != 0 {
		t.Errorf("creds = %+v, want none", creds)
	}
}

func TestLoadSkipsIncompleteRows(t *testing.T) {
	s := writeStore(t, `alias,login_id,user_id,username,password,account_number
good_tmb,LID,,,pw,111
,LID,,,pw,222
noauth_iob,,,,pw,333
nopass_kgb,LID,,,,444
short_idbi,LID
`)
	creds, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(creds) != 1 || creds[0].Alias != "good_tmb" {
		t.Errorf("creds = %+v, want only good_tmb", creds)
	}
}

func TestLoadPadsRaggedRows(t *testing.T) {
	s := writeStore(t, "padded_tmb,LID,,,pw,555,extra,columns\n")
	creds, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(creds) != 1 || creds[0].AccountNumber != "555" {
		t.Errorf("creds = %+v", creds)
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	s := writeStore(t, sample)

	if err := s.Update(ctx, "alpha_tmb", "password", "newpw"); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	creds, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if creds[0].Password != "newpw" {
		t.Errorf("password = %q, want newpw", creds[0].Password)
	}

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".credentials-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestUpdateErrors(t *testing.T) {
	ctx := context.Background()
	s := writeStore(t, sample)

	if err := s.Update(ctx, "alpha_tmb", "alias", "x"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("non-editable field error = %v, want ErrInvalidArgument", err)
	}
	if err := s.Update(ctx, "alpha_tmb", "password", "  "); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("empty value error = %v, want ErrInvalidArgument", err)
	}
	if err := s.Update(ctx, "ghost_tmb", "password", "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown alias error = %v, want ErrNotFound", err)
	}

	err := s.Update(ctx, "alpha_tmb", "account_number", "222")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("account collision error = %v, want ErrConflict", err)
	}
	if !strings.Contains(err.Error(), "beta_iob") {
		t.Errorf("conflict error should name the colliding alias, got %v", err)
	}
}

func TestUpdateOwnAccountNumberIsNotAConflict(t *testing.T) {
	s := writeStore(t, sample)
	if err := s.Update(context.Background(), "alpha_tmb", "account_number", "111"); err != nil {
		t.Errorf("Update() error = %v", err)
	}
}

func TestAppend(t *testing.T) {
	ctx := context.Background()
	s := New(filepath.Join(t.TempDir(), "credentials.csv"))

	c := domain.Credential{Alias: "fresh_kgb", LoginID: "LID9", Password: "pw9", AccountNumber: "999"}
	if err := s.Append(ctx, c); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	b, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(b), "alias,login_id,user_id,username,password,account_number\n") {
		t.Errorf("missing header, got %q", string(b))
	}

	creds, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(creds) != 1 || creds[0].BankLabel != "KGB" {
		t.Errorf("creds = %+v", creds)
	}
}

func TestAppendConflicts(t *testing.T) {
	ctx := context.Background()
	s := writeStore(t, sample)

	dupAlias := domain.Credential{Alias: "alpha_tmb", LoginID: "x", Password: "x", AccountNumber: "998"}
	if err := s.Append(ctx, dupAlias); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("duplicate alias error = %v, want ErrConflict", err)
	}

	dupAccount := domain.Credential{Alias: "delta_idbi", LoginID: "x", Password: "x", AccountNumber: "222"}
	err := s.Append(ctx, dupAccount)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate account error = %v, want ErrConflict", err)
	}
	if !strings.Contains(err.Error(), "beta_iob") {
		t.Errorf("conflict error should name the colliding alias, got %v", err)
	}
}

func TestAppendValidation(t *testing.T) {
	ctx := context.Background()
	s := New(filepath.Join(t.TempDir(), "credentials.csv"))

	cases := []struct {
		name string
		c    domain.Credential
	}{
		{"missing alias", domain.Credential{LoginID: "x", Password: "x", AccountNumber: "1"}},
		{"missing password", domain.Credential{Alias: "a_tmb", LoginID: "x", AccountNumber: "1"}},
		{"missing account", domain.Credential{Alias: "a_tmb", LoginID: "x", Password: "x"}},
		{"no auth identity", domain.Credential{Alias: "a_tmb", Password: "x", AccountNumber: "1"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if err := s.Append(ctx, c.c); !errors.Is(err, domain.ErrInvalidArgument) {
				t.Errorf("Append() error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}
