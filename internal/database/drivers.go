package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite" // registers "sqlite"
)

// Describe renders a driver error with the diagnostic fields the driver
// exposes. Errors from unknown drivers fall back to err.Error().
func Describe(err error) string {
	if err == nil {
		return ""
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return describeFields(err, [][2]string{
			{"Severity", pqErr.Severity},
			{"Error Code", fmt.Sprintf("%s (%s)", pqErr.Code, pqErr.Code.Name())},
			{"Message", pqErr.Message},
			{"Detail", pqErr.Detail},
			{"Hint", pqErr.Hint},
			{"Position", pqErr.Position},
		})
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		position := ""
		if pgErr.Position > 0 {
			position = fmt.Sprint(pgErr.Position)
		}
		return describeFields(err, [][2]string{
			{"Severity", pgErr.Severity},
			{"Error Code", pgErr.Code},
			{"Message", pgErr.Message},
			{"Detail", pgErr.Detail},
			{"Hint", pgErr.Hint},
			{"Position", position},
		})
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return describeFields(err, [][2]string{
			{"Error Code", fmt.Sprint(myErr.Number)},
			{"SQL State", string(myErr.SQLState[:])},
			{"Message", myErr.Message},
		})
	}

	return err.Error()
}

func describeFields(err error, fields [][2]string) string {
	var b strings.Builder
	b.WriteString(err.Error())
	b.WriteByte('\n')
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		fmt.Fprintf(&b, "  %-11s: %s\n", f[0], f[1])
	}
	return strings.TrimRight(b.String(), "\n")
}
