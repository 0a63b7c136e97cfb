package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/qri-io/jsonschema"

	"github.com/jobboard/jobboard/internal/job"
)

const snapshotSchema = `{
  "type": "object",
  "required": ["jobs"],
  "properties": {
    "jobs": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["_id"],
        "properties": {
          "_id": {"type": "string", "minLength": 1},
          "title": {"type": "string"},
          "location": {"type": "string"},
          "industry": {"type": "string"},
          "jobType": {"type": "string"},
          "salary": {"type": ["number", "string", "null"]},
          "createdAt": {"type": "string"},
          "company": {
            "type": ["object", "null"],
            "properties": {"name": {"type": "string"}}
          },
          "applications": {
            "type": ["array", "null"],
            "items": {
              "type": "object",
              "required": ["applicant", "status"],
              "properties": {
                "applicant": {"type": "string", "minLength": 1},
                "status": {"enum": ["pending", "accepted", "rejected"]}
              }
            }
          }
        }
      }
    }
  }
}`

type snapshotRequest struct {
	Jobs []job.Job `json:"jobs"`
}

type snapshotValidator struct {
	schema *jsonschema.Schema
}

func newSnapshotValidator() (*snapshotValidator, error) {
	rs := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(snapshotSchema), rs); err != nil {
		return nil, fmt.Errorf("compile snapshot schema: %w", err)
	}
	return &snapshotValidator{schema: rs}, nil
}

// decode validates body against the snapshot schema and decodes it.
func (v *snapshotValidator) decode(ctx context.Context, body []byte) ([]job.Job, error) {
	verrs, err := v.schema.ValidateBytes(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot: %w", err)
	}
	if len(verrs) > 0 {
		msgs := make([]string, 0, len(verrs))
		for _, ke := range verrs {
			msgs = append(msgs, ke.Error())
		}
		return nil, fmt.Errorf("invalid snapshot: %s", strings.Join(msgs, "; "))
	}

	var req snapshotRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid snapshot: %w", err)
	}
	return req.Jobs, nil
}
