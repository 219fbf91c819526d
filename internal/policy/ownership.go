// Package policy holds authorization rules for catalog resources.
package policy

import (
	"github.com/grimoireapp/grimoire-server/internal/auth"
	"github.com/grimoireapp/grimoire-server/internal/domain"
	"github.com/grimoireapp/grimoire-server/internal/errors"
)

// CanMutate reports whether identity owns book and may therefore update or delete it.
func CanMutate(identity auth.Identity, book *domain.Book) bool {
	return identity.Subject != "" && identity.Subject == book.UserID
}

// AuthorizeMutation returns Forbidden unless identity owns book.
// It guards update and delete; creation and rating never consult it.
func AuthorizeMutation(identity auth.Identity, book *domain.Book) error {
	if !CanMutate(identity, book) {
		return errors.Forbidden("unauthorized request")
	}
	return nil
}
