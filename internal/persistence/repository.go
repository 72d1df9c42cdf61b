package persistence

import "binance-margin-bot-go/internal/models"

// LiveStateRepository defines the interface for aggregator state persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type LiveStateRepository interface {
	// SaveState atomically saves the entire live state snapshot.
	SaveState(state *models.LiveState) error

	// LoadState loads the live state from storage.
	// If no state is found, it should return (nil, nil).
	LoadState() (*models.LiveState, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
