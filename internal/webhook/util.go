package webhook

import (
	"errors"
	"time"

	"github.com/supabase/stripe-sync-engine/internal/stripeclient"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

func isResourceMissing(err error) bool {
	return errors.Is(err, stripeclient.ErrResourceMissing)
}
