package session

import (
	"context"

	"shelfkeeper/pkg/datasource"
	"shelfkeeper/pkg/domain"
	"shelfkeeper/pkg/query"
)

// DirectorySource reads credential records from the users collection of a
// gateway. The username and password are sent as filters so REST servers can
// narrow the result; the Store re-checks every candidate locally.
type DirectorySource struct {
	fetcher  datasource.Fetcher
	resource string
}

// NewDirectorySource reads from domain.ResourceUsers.
func NewDirectorySource(f datasource.Fetcher) *DirectorySource {
	return &DirectorySource{fetcher: f, resource: domain.ResourceUsers}
}

func (d *DirectorySource) Credentials(ctx context.Context, username, password string) ([]domain.CredentialRecord, error) {
	q := query.Query{Filters: map[string]string{
		"username": username,
		"password": password,
	}}
	records, err := datasource.Decode[domain.CredentialRecord](d.fetcher.Query(ctx, d.resource, q))
	if err != nil {
		return nil, err
	}
	return records, nil
}

// StaticSource is a fixed directory, handy for tests and single-user setups.
type StaticSource []domain.CredentialRecord

func (s StaticSource) Credentials(context.Context, string, string) ([]domain.CredentialRecord, error) {
	return append([]domain.CredentialRecord(nil), s...), nil
}
