package datastore

import "time"

// TestSuite is an ordered list of certification test cases plus the bars a
// run has to clear.
type TestSuite struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Description   string      `json:"description,omitempty"`
	PassThreshold float64     `json:"pass_threshold"`
	MinScore      float64     `json:"min_score"`
	Cases         []*TestCase `json:"cases"`
	CreatedAt     time.Time   `json:"created_at"`
}

// TestCase is one scripted evaluation inside a suite.
type TestCase struct {
	ID              string `json:"id"`
	SuiteID         string `json:"suite_id"`
	Position        int    `json:"position"`
	Name            string `json:"name"`
	Content         string `json:"content"`
	Modality        string `json:"modality"`
	Territory       string `json:"territory,omitempty"`
	UsageType       string `json:"usage_type,omitempty"`
	Category        string `json:"category,omitempty"`
	ReferenceOutput string `json:"reference_output,omitempty"`
}
