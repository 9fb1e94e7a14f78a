package backfill

import (
	"encoding/json"
	"fmt"
)

type createdOnly struct {
	ID      string `json:"id"`
	Created int64  `json:"created"`
}

// maxCreatedTimestamp returns the highest "created" field across a
// page of raw Stripe objects, or 0 if none parse or none are present.
func maxCreatedTimestamp(items []json.RawMessage) int64 {
	var max int64
	for _, item := range items {
		var v createdOnly
		if err := json.Unmarshal(item, &v); err != nil {
			continue
		}
		if v.Created > max {
			max = v.Created
		}
	}
	return max
}

func lastItemID(items []json.RawMessage) (string, error) {
	if len(items) == 0 {
		return "", fmt.Errorf("backfill: empty page has no last id")
	}
	var v createdOnly
	if err := json.Unmarshal(items[len(items)-1], &v); err != nil {
		return "", fmt.Errorf("backfill: unmarshal last item id: %w", err)
	}
	if v.ID == "" {
		return "", fmt.Errorf("backfill: last item missing id")
	}
	return v.ID, nil
}
