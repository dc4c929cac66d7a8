package ingest

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xeipuuv/gojsonschema"

	"github.com/sells-group/bidlevel/internal/model"
)

const submissionSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["items"],
  "properties": {
    "event_id": { "type": "string" },
    "submission_id": { "type": "string" },
    "vendor_name": { "type": "string" },
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["extended_amount"],
        "properties": {
          "submission_id": { "type": "string" },
          "vendor_name": { "type": "string" },
          "csi_code": { "type": ["string", "null"] },
          "description": { "type": "string" },
          "quantity": { "type": "number" },
          "unit_of_measure": { "type": "string" },
          "unit_price": { "type": "number" },
          "extended_amount": { "type": "number" },
          "is_allowance": { "type": "boolean" },
          "line_number": { "type": "integer", "minimum": 1 }
        }
      }
    }
  }
}`

var submissionSchemaLoader = gojsonschema.NewStringLoader(submissionSchemaJSON)

// SchemaError lists every schema violation found in a JSON document.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	return "ingest: submission does not match schema: " + strings.Join(e.Problems, "; ")
}

// DecodeSubmission validates a JSON submission against the submission schema
// and decodes it. Item metadata is stamped from the envelope.
func DecodeSubmission(data []byte) (*model.Submission, error) {
	result, err := gojsonschema.Validate(submissionSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, eris.Wrap(err, "ingest: parse submission json")
	}
	if !result.Valid() {
		se := &SchemaError{}
		for _, desc := range result.Errors() {
			se.Problems = append(se.Problems, desc.String())
		}
		return nil, se
	}

	var sub model.Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, eris.Wrap(err, "ingest: decode submission")
	}
	if sub.SubmissionID == "" && len(sub.Items) > 0 {
		sub.SubmissionID = sub.Items[0].SubmissionID
	}
	sub.Stamp()
	return &sub, nil
}

// ReadJSON reads a JSON submission file. Options fill a missing submission id
// or vendor name.
func ReadJSON(r io.Reader, opts Options) (*Batch, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read json")
	}
	sub, err := DecodeSubmission(data)
	if err != nil {
		return nil, err
	}
	if opts.SubmissionID != "" && sub.SubmissionID == "" {
		sub.SubmissionID = opts.SubmissionID
	}
	if opts.VendorName != "" && sub.VendorName == "" {
		sub.VendorName = opts.VendorName
	}
	sub.Stamp()
	return &Batch{Items: sub.Items}, nil
}
