package gsheets

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/drive/v3"
)

type Revision struct {
	ID       string
	Modified time.Time
}

// LatestRevision returns the most recently modified revision of a Drive file.
func (c *Client) LatestRevision(ctx context.Context, fileID string) (*Revision, error) {
	page := ""
	latest := Revision{}

	for {
		revisions, err := call(ctx, c, fmt.Sprintf("revisions.list %v", fileID), func(ctx context.Context) (*drive.RevisionList, error) {
			rq := c.drive.Revisions.List(fileID).
				Fields("nextPageToken", "revisions(id,modifiedTime)").
				Context(ctx)

			if page != "" {
				rq = rq.PageToken(page)
			}

			return rq.Do()
		})

		if err != nil {
			return nil, err
		}

		for _, revision := range revisions.Revisions {
			datetime, err := time.Parse(time.RFC3339Nano, revision.ModifiedTime)
			if err != nil {
				return nil, fmt.Errorf("invalid revision timestamp '%v' (%v)", revision.ModifiedTime, err)
			}

			if latest.Modified.Before(datetime) {
				latest.ID = revision.Id
				latest.Modified = datetime
			}
		}

		if page = revisions.NextPageToken; page == "" {
			break
		}
	}

	if latest.Modified.IsZero() {
		return nil, fmt.Errorf("unable to identify latest revision for file ID %s", fileID)
	}

	return &latest, nil
}
