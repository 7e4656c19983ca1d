package updates

import "fmt"

// Row is the serialized shape of an update inside JSON, YAML and generated
// config documents. Statements is accepted as an alias of Queries.
type Row struct {
	ID         string   `json:"id" yaml:"id"`
	Queries    []string `json:"queries,omitempty" yaml:"queries,omitempty"`
	Statements []string `json:"statements,omitempty" yaml:"statements,omitempty"`
}

// FromRow validates a decoded document row and converts it into an Update.
func FromRow(row Row) (Update, error) {
	if row.ID == "" {
		return Update{}, fmt.Errorf("%w: update has no valid ID", ErrInvalidConfig)
	}
	if len(row.Queries) > 0 && len(row.Statements) > 0 {
		return Update{}, fmt.Errorf("%w: update %s sets both queries and statements", ErrInvalidConfig, row.ID)
	}

	statements := row.Queries
	if len(statements) == 0 {
		statements = row.Statements
	}
	return New(row.ID, statements)
}

// ToRow converts u into its document representation.
func ToRow(u Update) Row {
	return Row{ID: u.ID(), Queries: u.Statements()}
}
