package indexer

import (
	"context"

	"go.uber.org/zap"

	"voucherRelay/internal/model"
)

const reportsQuery = `query reports {
  reports {
    edges {
      node {
        id
        index
        input {
          index
          payload
        }
        payload
      }
    }
  }
}`

type reportsData struct {
	Reports *struct {
		Edges []struct {
			Node *reportNode `json:"node"`
		} `json:"edges"`
	} `json:"reports"`
}

type reportNode struct {
	ID      string     `json:"id"`
	Index   uint64     `json:"index"`
	Input   *inputNode `json:"input"`
	Payload string     `json:"payload"`
}

type inputNode struct {
	Index   uint64 `json:"index"`
	Payload string `json:"payload"`
}

// FetchReports returns every report known to the indexer, payloads in display form,
// ordered newest input first and by descending report index within an input.
func (c *Client) FetchReports(ctx context.Context) ([]model.Report, error) {
	var data reportsData
	if err := c.query(ctx, "reports", reportsQuery, nil, &data); err != nil {
		return nil, err
	}
	if data.Reports == nil {
		return nil, nil
	}

	reports := make([]model.Report, 0, len(data.Reports.Edges))
	for _, edge := range data.Reports.Edges {
		if edge.Node == nil {
			continue
		}
		reports = append(reports, toReport(*edge.Node))
	}
	model.SortReports(reports)

	c.logger.Debug("reports fetched", zap.Int("count", len(reports)))
	return reports, nil
}

func toReport(node reportNode) model.Report {
	report := model.Report{
		ID:           node.ID,
		ReportIndex:  node.Index,
		InputPayload: model.EmptyPayload,
		Payload:      model.DisplayPayload(node.Payload),
	}
	if node.Input != nil {
		report.InputIndex = node.Input.Index
		report.InputPayload = model.DisplayPayload(node.Input.Payload)
	}
	return report
}
