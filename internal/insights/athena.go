package insights

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
)

type AthenaClient interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, params *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
}

type queryOptions struct {
	Database       string
	Workgroup      string
	OutputLocation string
	MaxWait        time.Duration
	PollInterval   time.Duration
	MaxResultRows  int
}

type QueryResult struct {
	QueryExecutionID string           `json:"queryExecutionId"`
	Columns          []string         `json:"columns"`
	Rows             []map[string]any `json:"rows"`
	ScannedBytes     int64            `json:"scannedBytes"`
	ExecutionMs      int64            `json:"executionMs"`
}

func runQuery(ctx context.Context, c AthenaClient, sql string, opt queryOptions) (*QueryResult, error) {
	if opt.Database == "" || opt.Workgroup == "" || opt.OutputLocation == "" {
		return nil, fmt.Errorf("athena database, workgroup and output location are required")
	}
	if opt.MaxWait == 0 {
		opt.MaxWait = 25 * time.Second
	}
	if opt.PollInterval == 0 {
		opt.PollInterval = 700 * time.Millisecond
	}
	if opt.MaxResultRows == 0 {
		opt.MaxResultRows = 200
	}

	startOut, err := c.StartQueryExecution(ctx, &athena.StartQueryExecutionInput{
		QueryString: aws.String(sql),
		QueryExecutionContext: &athenatypes.QueryExecutionContext{
			Database: aws.String(opt.Database),
		},
		ResultConfiguration: &athenatypes.ResultConfiguration{
			OutputLocation: aws.String(opt.OutputLocation),
		},
		WorkGroup: aws.String(opt.Workgroup),
	})
	if err != nil {
		return nil, fmt.Errorf("athena StartQueryExecution: %w", err)
	}
	qid := aws.ToString(startOut.QueryExecutionId)

	exec, err := waitForQuery(ctx, c, qid, opt)
	if err != nil {
		return nil, err
	}

	var (
		nextToken *string
		allRows   []athenatypes.Row
		colInfo   []athenatypes.ColumnInfo
	)
	for {
		resOut, err := c.GetQueryResults(ctx, &athena.GetQueryResultsInput{
			QueryExecutionId: aws.String(qid),
			NextToken:        nextToken,
			MaxResults:       aws.Int32(1000),
		})
		if err != nil {
			return nil, fmt.Errorf("athena GetQueryResults: %w", err)
		}
		if colInfo == nil {
			colInfo = resOut.ResultSet.ResultSetMetadata.ColumnInfo
		}
		allRows = append(allRows, resOut.ResultSet.Rows...)
		if resOut.NextToken == nil || aws.ToString(resOut.NextToken) == "" {
			break
		}
		nextToken = resOut.NextToken
		if len(allRows) > opt.MaxResultRows+1 {
			break
		}
	}

	cols := make([]string, 0, len(colInfo))
	for _, ci := range colInfo {
		cols = append(cols, aws.ToString(ci.Name))
	}

	// First row is the header.
	outRows := make([]map[string]any, 0, len(allRows))
	for i, r := range allRows {
		if i == 0 {
			continue
		}
		if len(outRows) >= opt.MaxResultRows {
			break
		}
		m := map[string]any{}
		for ci, d := range r.Data {
			if ci >= len(cols) {
				continue
			}
			m[cols[ci]] = coerceScalar(aws.ToString(d.VarCharValue))
		}
		outRows = append(outRows, m)
	}

	res := &QueryResult{QueryExecutionID: qid, Columns: cols, Rows: outRows}
	if exec != nil && exec.Statistics != nil {
		res.ScannedBytes = aws.ToInt64(exec.Statistics.DataScannedInBytes)
		res.ExecutionMs = aws.ToInt64(exec.Statistics.EngineExecutionTimeInMillis)
	}
	return res, nil
}

func waitForQuery(ctx context.Context, c AthenaClient, qid string, opt queryOptions) (*athenatypes.QueryExecution, error) {
	deadline := time.Now().Add(opt.MaxWait)
	for {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("athena query timed out (qid=%s)", qid)
		}
		getOut, err := c.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(qid),
		})
		if err != nil {
			return nil, fmt.Errorf("athena GetQueryExecution: %w", err)
		}
		exec := getOut.QueryExecution
		switch exec.Status.State {
		case athenatypes.QueryExecutionStateSucceeded:
			return exec, nil
		case athenatypes.QueryExecutionStateFailed, athenatypes.QueryExecutionStateCancelled:
			return nil, fmt.Errorf("athena %s: %s (qid=%s)",
				exec.Status.State, aws.ToString(exec.Status.StateChangeReason), qid)
		default:
			time.Sleep(opt.PollInterval)
		}
	}
}

func coerceScalar(v string) any {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}
