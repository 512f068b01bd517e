package postgres

import (
	"context"
	"fmt"

	"github.com/gramwatch/gramwatch/internal/pipeline"
)

const listAccountsSQL = `SELECT id, username, kind FROM accounts ORDER BY id`

// ListAccounts returns every tracked account.
func (s *Store) ListAccounts(ctx context.Context) ([]pipeline.Account, error) {
	rows, err := s.db.Query(ctx, listAccountsSQL)
	if err != nil {
		return nil, fmt.Errorf("select accounts: %w", err)
	}
	defer rows.Close()

	var accounts []pipeline.Account
	for rows.Next() {
		var account pipeline.Account
		var kind string
		if err := rows.Scan(&account.ID, &account.Username, &kind); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		account.Kind = pipeline.SourceKind(kind)
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}
