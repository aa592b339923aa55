package migrations

import (
	"ticket-verifier/services"

	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		return services.EnsureJournalCollection(app)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId(services.JournalCollection)
		if err != nil {
			return nil
		}

		return app.Delete(collection)
	})
}
