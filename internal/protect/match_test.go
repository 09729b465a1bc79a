package protect

import "testing"

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		pattern  string
		expected bool
	}{
		{"double star matches deep path", "a/b/c/d/file.py", "**/c/**", true},
		{"double star at start", "dags/secrets/conn.json", "**/secrets/**", true},
		{"double star at end", ".git/config", ".git/**", true},
		{"literal match", "dbt/dbt_project.yml", "dbt/dbt_project.yml", true},
		{"single star in segment", "pipelines/sap_kna1.py", "pipelines/sap_*.py", true},
		{"star spans nothing", "pipelines/sap_.py", "pipelines/sap_*.py", true},
		{"multiple stars", "models/dim_customer_scd2.sql", "models/dim_*_scd*.sql", true},
		{"no match - different path", "pipelines/extract.py", "**/secrets/**", false},
		{"no match - suffix", "pipelines/sap_kna1.sql", "pipelines/sap_*.py", false},
		{"gitignore is not .git", ".gitignore", ".git/**", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := compileGlob(tc.pattern).match(tc.path)
			if result != tc.expected {
				t.Errorf("glob(%q).match(%q) = %v, expected %v", tc.pattern, tc.path, result, tc.expected)
			}
		})
	}
}
