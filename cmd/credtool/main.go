// Command credtool maintains the credential CSV offline: validate the
// file, list its rows with masked account numbers, or append a row. It
// shares the store code with the main binary, so anything credtool writes
// is readable by autobot and vice versa.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/moshano/autobot/internal/adapter/credstore/csvstore"
	"github.com/moshano/autobot/internal/domain"
	"github.com/moshano/autobot/pkg/textx"
)

func main() {
	file := flag.String("file", "tmb_credentials.csv", "credential CSV file")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	store := csvstore.New(*file)
	ctx := context.Background()

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "validate":
		err = validate(ctx, store)
	case "list":
		err = list(ctx, store)
	case "add":
		if flag.NArg() != 2 {
			err = fmt.Errorf("usage: credtool -file <csv> add alias,login_id,user_id,password,account_number")
			break
		}
		err = add(ctx, store, flag.Arg(1))
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "credtool:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: credtool [-file creds.csv] <command>

commands:
  validate          check schema, bank mapping and account uniqueness
  list              print rows with masked account numbers
  add <csv-row>     append alias,login_id,user_id,password,account_number`)
}

func validate(ctx context.Context, store *csvstore.Store) error {
	creds, err := store.Load(ctx)
	if err != nil {
		return err
	}

	problems := 0
	seenAlias := map[string]bool{}
	seenAccount := map[string]string{}
	for _, c := range creds {
		if seenAlias[c.Alias] {
			fmt.Printf("%s: duplicate alias\n", c.Alias)
			problems++
		}
		seenAlias[c.Alias] = true
		if prev, ok := seenAccount[c.AccountNumber]; ok {
			fmt.Printf("%s: account number already used by %s\n", c.Alias, prev)
			problems++
		} else {
			seenAccount[c.AccountNumber] = c.Alias
		}
		if _, err := domain.BankByLabel(c.BankLabel); err != nil {
			fmt.Printf("%s: bank %q unsupported\n", c.Alias, c.BankLabel)
			problems++
		}
	}
	if problems > 0 {
		return fmt.Errorf("%d problem(s) in %d row(s)", problems, len(creds))
	}
	fmt.Printf("%d row(s), all valid\n", len(creds))
	return nil
}

func list(ctx context.Context, store *csvstore.Store) error {
	creds, err := store.Load(ctx)
	if err != nil {
		return err
	}
	for _, c := range creds {
		fmt.Printf("%-20s %-15s %s\n", c.Alias, c.BankLabel, textx.MaskTail(c.AccountNumber, 4))
	}
	return nil
}

func add(ctx context.Context, store *csvstore.Store, row string) error {
	parts := strings.Split(row, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	var cred domain.Credential
	switch len(parts) {
	case 4:
		cred = domain.Credential{Alias: parts[0], Username: parts[1], Password: parts[2], AccountNumber: parts[3]}
	case 5:
		cred = domain.Credential{Alias: parts[0], LoginID: parts[1], UserID: parts[2], Password: parts[3], AccountNumber: parts[4]}
	default:
		return fmt.Errorf("expected 4 or 5 comma-separated fields, got %d", len(parts))
	}
	cred.BankLabel = domain.LabelFromAlias(cred.Alias)
	if _, err := domain.BankByLabel(cred.BankLabel); err != nil {
		return fmt.Errorf("alias %q maps to no supported bank", cred.Alias)
	}
	if err := store.Append(ctx, cred); err != nil {
		return err
	}
	fmt.Printf("added %s (%s)\n", cred.Alias, cred.BankLabel)
	return nil
}
