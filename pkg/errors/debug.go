package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrorDump flattens an error chain for structured logs.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Retryable  bool     `json:"retryable"`
	Chain      []string `json:"chain,omitempty"`

	Postgres PostgresDetail `json:"postgres"`
}

// PostgresDetail is the server-side error report, from either pgx or lib/pq.
type PostgresDetail struct {
	Code       string `json:"pg_code,omitempty"`
	Constraint string `json:"pg_constraint,omitempty"`
	Table      string `json:"pg_table,omitempty"`
	Detail     string `json:"pg_detail,omitempty"`
	Message    string `json:"pg_message,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{TopMessage: err.Error(), Postgres: postgresDetail(err)}
	if typed := As(err); typed != nil {
		d.Code = typed.code
		d.Retryable = MetadataFor(typed.code).Retryable
	}
	for link := err; link != nil; link = stdErrors.Unwrap(link) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", link, link))
	}
	return d
}

func postgresDetail(err error) PostgresDetail {
	if pgxErr := (*pgconn.PgError)(nil); stdErrors.As(err, &pgxErr) {
		return PostgresDetail{pgxErr.Code, pgxErr.ConstraintName, pgxErr.TableName, pgxErr.Detail, pgxErr.Message}
	}
	if pqErr := (*pq.Error)(nil); stdErrors.As(err, &pqErr) {
		return PostgresDetail{string(pqErr.Code), pqErr.Constraint, pqErr.Table, pqErr.Detail, pqErr.Message}
	}
	return PostgresDetail{}
}

// Fields renders the dump as logger fields, omitting empty postgres values.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{
		"error":       d.TopMessage,
		"error_chain": d.Chain,
		"retryable":   d.Retryable,
	}
	if d.Code != "" {
		fields["error_code"] = d.Code
	}
	pg := d.Postgres
	for _, kv := range [][2]string{
		{"pg_code", pg.Code},
		{"pg_constraint", pg.Constraint},
		{"pg_table", pg.Table},
		{"pg_detail", pg.Detail},
		{"pg_message", pg.Message},
	} {
		if kv[1] != "" {
			fields[kv[0]] = kv[1]
		}
	}
	return fields
}
