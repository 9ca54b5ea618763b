package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	log "github.com/sirupsen/logrus"
)

type Resp struct {
	Ok        bool   `json:"ok"`
	QueryID   string `json:"query_id,omitempty"`
	State     string `json:"state,omitempty"`
	Database  string `json:"database,omitempty"`
	Table     string `json:"table,omitempty"`
	Workgroup string `json:"workgroup,omitempty"`
	Output    string `json:"output,omitempty"`
}

// handler runs MSCK REPAIR TABLE so partitions written by the metrics ETL
// become queryable without manual catalog edits.
func handler(ctx context.Context) (Resp, error) {
	db := strings.TrimSpace(os.Getenv("GLUE_DATABASE"))
	table := strings.TrimSpace(os.Getenv("SYNC_METRICS_TABLE"))
	workgroup := strings.TrimSpace(os.Getenv("ATHENA_WORKGROUP"))
	output := strings.TrimSpace(os.Getenv("ATHENA_OUTPUT_LOCATION"))

	if db == "" || table == "" || output == "" {
		return Resp{Ok: false}, fmt.Errorf("missing env: GLUE_DATABASE, SYNC_METRICS_TABLE, ATHENA_OUTPUT_LOCATION are required")
	}
	if !strings.HasPrefix(output, "s3://") {
		return Resp{Ok: false}, fmt.Errorf("ATHENA_OUTPUT_LOCATION must start with s3://")
	}
	if workgroup == "" {
		workgroup = "primary"
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return Resp{Ok: false}, err
	}
	ath := athena.NewFromConfig(cfg)

	startOut, err := ath.StartQueryExecution(ctx, &athena.StartQueryExecutionInput{
		QueryString: aws.String(fmt.Sprintf("MSCK REPAIR TABLE %s;", table)),
		QueryExecutionContext: &athenatypes.QueryExecutionContext{
			Database: aws.String(db),
		},
		WorkGroup: aws.String(workgroup),
		ResultConfiguration: &athenatypes.ResultConfiguration{
			OutputLocation: aws.String(output),
		},
	})
	if err != nil {
		return Resp{Ok: false}, fmt.Errorf("StartQueryExecution: %w", err)
	}

	qid := aws.ToString(startOut.QueryExecutionId)
	log.WithFields(log.Fields{"qid": qid, "db": db, "table": table}).Info("partition repair started")

	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		st, err := ath.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(qid),
		})
		if err != nil {
			return Resp{Ok: false, QueryID: qid}, fmt.Errorf("GetQueryExecution: %w", err)
		}
		state := string(st.QueryExecution.Status.State)
		switch state {
		case "SUCCEEDED":
			return Resp{
				Ok:        true,
				QueryID:   qid,
				State:     state,
				Database:  db,
				Table:     table,
				Workgroup: workgroup,
				Output:    output,
			}, nil
		case "FAILED", "CANCELLED":
			reason := aws.ToString(st.QueryExecution.Status.StateChangeReason)
			return Resp{Ok: false, QueryID: qid, State: state}, fmt.Errorf("repair %s: %s", state, reason)
		}
		time.Sleep(2 * time.Second)
	}

	return Resp{Ok: false, QueryID: qid, State: "TIMEOUT"}, fmt.Errorf("repair timed out waiting for qid=%s", qid)
}

func main() {
	lambda.Start(handler)
}
