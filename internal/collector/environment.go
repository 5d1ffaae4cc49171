package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/Mobizinc/changegate/internal/servicenow"
	"github.com/Mobizinc/changegate/internal/types"
)

// DefaultStaleAfterDays is how old a sub-production clone may be before the
// environment is flagged stale.
const DefaultStaleAfterDays = 30

// fetchEnvironmentHealth finds the latest completed clone into the target
// instance and computes freshness. Newer instances expose sys_clone_history;
// older ones only have sn_instance_clone_request, so a miss on the first
// table falls through to the second.
func fetchEnvironmentHealth(ctx context.Context, client RecordFetcher, targetInstance string, staleAfterDays int) (*types.EnvironmentHealth, error) {
	if staleAfterDays <= 0 {
		staleAfterDays = DefaultStaleAfterDays
	}

	record, timestampField, err := fetchLastCloneRecord(ctx, client, targetInstance)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("no clone history found for target %q", targetInstance)
	}

	cloneTime := record.GetTime(timestampField)
	if cloneTime == nil {
		cloneTime = record.GetTime("sys_created_on")
	}
	if cloneTime == nil {
		return nil, fmt.Errorf("clone record %s has no usable timestamp", record.GetString("sys_id"))
	}

	days := int(time.Since(*cloneTime).Hours() / 24)
	return &types.EnvironmentHealth{
		TargetInstance: targetInstance,
		LastCloneDate:  cloneTime,
		DaysSinceClone: days,
		Stale:          days > staleAfterDays,
		StaleAfterDays: staleAfterDays,
		CloneRecordID:  record.GetString("sys_id"),
	}, nil
}

func fetchLastCloneRecord(ctx context.Context, client RecordFetcher, targetInstance string) (rec servicenow.Record, timestampField string, err error) {
	query := fmt.Sprintf("target_instance=%s^state=completed^ORDERBYDESClast_completed_time", targetInstance)
	fields := []string{"sys_id", "source_instance", "target_instance", "state", "sys_created_on", "last_completed_time"}
	records, err := client.QueryTable(ctx, "sys_clone_history", query, 1, fields)
	if err == nil && len(records) > 0 {
		return records[0], "last_completed_time", nil
	}
	// Either the table is missing on this instance or it returned nothing.
	fallbackQuery := fmt.Sprintf("target_instance.instance_name=%s^state=Completed^ORDERBYDESCcompleted", targetInstance)
	fallbackFields := []string{"sys_id", "target_instance", "source_instance", "state", "sys_created_on", "completed", "started"}
	records, ferr := client.QueryTable(ctx, "sn_instance_clone_request", fallbackQuery, 1, fallbackFields)
	if ferr != nil {
		if err != nil {
			return nil, "", err
		}
		return nil, "", ferr
	}
	if len(records) == 0 {
		return nil, "", nil
	}
	return records[0], "completed", nil
}
