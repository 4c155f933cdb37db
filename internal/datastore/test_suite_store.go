package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateTestSuite inserts a suite and its cases; case positions follow slice order.
func (s *Store) CreateTestSuite(ctx context.Context, suite *TestSuite) error {
	suite.CreatedAt = Now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO test_suites (id, name, description, pass_threshold, min_score, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`),
			suite.ID, suite.Name, suite.Description, suite.PassThreshold, suite.MinScore, toMillis(suite.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to create test suite: %w", err)
		}
		for i, tc := range suite.Cases {
			tc.SuiteID = suite.ID
			tc.Position = i
			_, err := tx.ExecContext(ctx, s.rebind(`
				INSERT INTO test_cases (id, suite_id, position, name, content, modality, territory, usage_type, category, reference_output)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
				tc.ID, suite.ID, tc.Position, tc.Name, tc.Content, tc.Modality, tc.Territory, tc.UsageType,
				tc.Category, tc.ReferenceOutput)
			if err != nil {
				return fmt.Errorf("failed to create test case %q: %w", tc.Name, err)
			}
		}
		return nil
	})
}

// GetTestSuite retrieves a suite with its cases in order.
func (s *Store) GetTestSuite(ctx context.Context, id string) (*TestSuite, error) {
	suite := &TestSuite{}
	var createdAt int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, name, description, pass_threshold, min_score, created_at FROM test_suites WHERE id = ?`), id).
		Scan(&suite.ID, &suite.Name, &suite.Description, &suite.PassThreshold, &suite.MinScore, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("test suite %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get test suite: %w", err)
	}
	suite.CreatedAt = fromMillis(createdAt)

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, suite_id, position, name, content, modality, territory, usage_type, category, reference_output
		FROM test_cases WHERE suite_id = ? ORDER BY position`), id)
	if err != nil {
		return nil, fmt.Errorf("failed to list test cases: %w", err)
	}
	defer rows.Close()

	suite.Cases = []*TestCase{}
	for rows.Next() {
		tc := &TestCase{}
		if err := rows.Scan(&tc.ID, &tc.SuiteID, &tc.Position, &tc.Name, &tc.Content, &tc.Modality, &tc.Territory,
			&tc.UsageType, &tc.Category, &tc.ReferenceOutput); err != nil {
			return nil, fmt.Errorf("failed to scan test case row: %w", err)
		}
		suite.Cases = append(suite.Cases, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for test cases: %w", err)
	}
	return suite, nil
}

// ListTestSuites lists suites without their cases.
func (s *Store) ListTestSuites(ctx context.Context) ([]*TestSuite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, pass_threshold, min_score, created_at FROM test_suites ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list test suites: %w", err)
	}
	defer rows.Close()

	suites := []*TestSuite{}
	for rows.Next() {
		suite := &TestSuite{}
		var createdAt int64
		if err := rows.Scan(&suite.ID, &suite.Name, &suite.Description, &suite.PassThreshold, &suite.MinScore, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan test suite row: %w", err)
		}
		suite.CreatedAt = fromMillis(createdAt)
		suites = append(suites, suite)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for test suites: %w", err)
	}
	return suites, nil
}
