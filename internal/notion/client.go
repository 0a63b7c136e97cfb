// Package notion mirrors confirmed applications into a Notion database.
package notion

import (
	"context"
	"net/http"
	"strings"
	"time"

	gnt "github.com/dstotijn/go-notion"

	"github.com/jobboard/jobboard/internal/job"
)

type Client struct {
	api        *gnt.Client
	databaseID string
}

// New builds a client for one database. Dashes in the id are dropped, so
// ids copied from the Notion UI work as they are.
func New(token, databaseID string, httpClient *http.Client) *Client {
	var opts []gnt.ClientOption
	if httpClient != nil {
		opts = append(opts, gnt.WithHTTPClient(httpClient))
	}
	return &Client{
		api:        gnt.NewClient(token, opts...),
		databaseID: strings.ReplaceAll(strings.TrimSpace(databaseID), "-", ""),
	}
}

// Ping runs a one-row query to check token and database id.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.QueryDatabase(ctx, c.databaseID, &gnt.DatabaseQuery{PageSize: 1})
	return err
}

// CreateApplicationPage adds one row for the application and returns the
// page id.
func (c *Client) CreateApplicationPage(ctx context.Context, j job.Job, rec job.ApplicationRecord) (string, error) {
	props := applicationProperties(j, rec)
	page, err := c.api.CreatePage(ctx, gnt.CreatePageParams{
		ParentType:             gnt.ParentTypeDatabase,
		ParentID:               c.databaseID,
		DatabasePageProperties: &props,
	})
	if err != nil {
		return "", err
	}
	return page.ID, nil
}

func richText(s string) []gnt.RichText {
	if s == "" {
		return nil
	}
	return []gnt.RichText{{Text: &gnt.Text{Content: s}}}
}

func applicationProperties(j job.Job, rec job.ApplicationRecord) gnt.DatabasePageProperties {
	title := j.Title
	if title == "" {
		title = j.ID
	}
	props := gnt.DatabasePageProperties{
		"Position":  gnt.DatabasePageProperty{Title: richText(title)},
		"Applicant": gnt.DatabasePageProperty{RichText: richText(rec.ApplicantID)},
	}
	if name := j.CompanyName(); name != "" {
		props["Company"] = gnt.DatabasePageProperty{RichText: richText(name)}
	}
	if j.Location != "" {
		props["Location"] = gnt.DatabasePageProperty{RichText: richText(j.Location)}
	}
	if s := j.Salary.String(); s != "" {
		props["Salary"] = gnt.DatabasePageProperty{RichText: richText(s)}
	}
	if rec.Status != "" {
		props["Stage"] = gnt.DatabasePageProperty{Select: &gnt.SelectOptions{Name: string(rec.Status)}}
	}
	applied := rec.AppliedAt
	if applied.IsZero() {
		applied = time.Now()
	}
	props["Applied"] = gnt.DatabasePageProperty{Date: &gnt.Date{Start: gnt.NewDateTime(applied, true)}}
	return props
}
