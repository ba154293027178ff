package classify

import (
	"github.com/nhle/mailsort/internal/folders"
	"github.com/nhle/mailsort/internal/ledger"
	"github.com/nhle/mailsort/internal/mailstore"
	"github.com/nhle/mailsort/internal/taxonomy"
)

// RunContext carries the state one run builds and later relocations
// reuse. It replaces any process-wide folder map or copied-id cache.
type RunContext struct {
	Account mailstore.Account
	Root    mailstore.Folder
	Tree    *taxonomy.Tree
	Index   *taxonomy.Index
	Folders folders.Map
	Ledger  *ledger.Ledger

	// UnclassifiedPath is the taxonomy path key of the fallback folder.
	UnclassifiedPath string
}
