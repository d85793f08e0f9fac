package domain

import "strings"

// DeriveCollectionID maps an organization name to its backing collection
// identifier. Both the registry and the collection store must address tenant
// data through this function; it is the single naming authority.
//
// The mapping is deterministic: "Acme Corp" -> "org_acme_corp". Names that
// differ only in case or spacing normalize to the same identifier, which the
// registry's unique collection_id constraint rejects at create time.
func DeriveCollectionID(name string) string {
	return "org_" + strings.ReplaceAll(strings.ToLower(name), " ", "_")
}
