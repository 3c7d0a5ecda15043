package neo4j

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/complyte/tradeconfirm/internal/core/domain"
)

const resolveQuery = `
MATCH (e:Employee)-[:USES_ADDRESS]->(:Address {email: $email})
RETURN e.id AS id
LIMIT 1`

// Directory resolves origin addresses to employee ids over the organization
// graph. An unknown address is a value, not an error.
type Directory struct {
	driver neo4j.DriverWithContext
}

func NewDirectory(driver neo4j.DriverWithContext) *Directory {
	return &Directory{driver: driver}
}

func (d *Directory) ResolveByAddress(ctx context.Context, address string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(address))
	if email == "" {
		return "", nil
	}

	result, err := neo4j.ExecuteQuery(ctx, d.driver,
		resolveQuery,
		map[string]any{"email": email},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithReadersRouting(),
	)
	if err != nil {
		// Graph connectivity comes back: leave the claim for the sweep.
		return "", domain.WrapError(domain.ErrTemporary, "identity lookup", err)
	}
	if len(result.Records) == 0 {
		return "", nil
	}

	value, ok := result.Records[0].Get("id")
	if !ok || value == nil {
		return "", nil
	}
	id, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("identity lookup: employee id is %T, not string", value)
	}
	return id, nil
}
