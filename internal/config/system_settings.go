package config

import (
	"os"
	"strconv"
	"time"
)

const DATABASE_TYPE = "GFLOW_DATABASE_TYPE"
const DATABASE_URL = "GFLOW_DATABASE_URL"
const DATABASE_SQLLITE_FILE_NAME = "GFLOW_DATABASE_SQLLITE_FILE_NAME"
const ENGINE_SERVER_WEB_PORT = "GFLOW_ENGINE_SERVER_WEB_PORT"
const ENGINE_CHECK_DB_INTERVAL = "GFLOW_ENGINE_CHECK_DB_INTERVAL"
const ENGINE_SCHEDULER_INTERVAL = "GFLOW_ENGINE_SCHEDULER_INTERVAL"
const ENGINE_STUCK_RUNS_INTERVAL = "GFLOW_ENGINE_STUCK_RUNS_INTERVAL"
const ENGINE_STUCK_RUNS_REPAIR_AFTER_MINUTES = "GFLOW_ENGINE_STUCK_RUNS_REPAIR_AFTER_MINUTES"
const ENGINE_BATCH_SIZE = "GFLOW_ENGINE_BATCH_SIZE"           //number of runs to pull from the database at a time
const ENGINE_EXECUTOR_SIZE = "GFLOW_ENGINE_EXECUTOR_SIZE"     //number of workers, ie how many runs execute in parallel
const ENGINE_MAX_ACTIVE_RUNS = "GFLOW_ENGINE_MAX_ACTIVE_RUNS" //per dag cap on queued plus running runs
const DAGS_FOLDER = "GFLOW_DAGS_FOLDER"
const CONNECTIONS_FILE = "GFLOW_CONNECTIONS_FILE"
const API_KEY_HASH = "GFLOW_API_KEY_HASH"
const LOG_LEVEL = "GFLOW_LOG_LEVEL"
const EXECUTOR_NAME = "GFLOW_EXECUTOR_NAME"
const WEB_SESSION_EXPIRY_HOURS = "GFLOW_WEB_SESSION_EXPIRY_HOURS"

const DATABASE_TYPE_POSTGRES = "POSTGRES"
const DATABASE_TYPE_MYSQL = "MYSQL"
const DATABASE_TYPE_SQLLITE = "SQLLITE"

var defaults = map[string]string{
	ENGINE_CHECK_DB_INTERVAL:               "3s",
	ENGINE_SCHEDULER_INTERVAL:              "5s",
	ENGINE_STUCK_RUNS_INTERVAL:             "60s",
	ENGINE_STUCK_RUNS_REPAIR_AFTER_MINUTES: "5",
	ENGINE_BATCH_SIZE:                      "5",
	ENGINE_EXECUTOR_SIZE:                   "5",
	ENGINE_MAX_ACTIVE_RUNS:                 "16",
	ENGINE_SERVER_WEB_PORT:                 "8080",
	DATABASE_SQLLITE_FILE_NAME:             "./dagflow.db",
	LOG_LEVEL:                              "INFO",
	WEB_SESSION_EXPIRY_HOURS:               "24",
}

func GetSystemSettingInteger(settingKey string) int {
	val := GetSystemSettingString(settingKey)
	if val != "" {
		intValue, _ := strconv.Atoi(val)
		return intValue
	}
	return 0
}

// GetSystemSettingDuration parses values like 3s or 1m. An unparsable
// override falls back to the default.
func GetSystemSettingDuration(settingKey string) time.Duration {
	if d, err := time.ParseDuration(GetSystemSettingString(settingKey)); err == nil {
		return d
	}
	d, _ := time.ParseDuration(defaults[settingKey])
	return d
}

func GetSystemSettingString(settingKey string) string {
	val := os.Getenv(settingKey)
	if val != "" {
		return val
	}
	return defaults[settingKey]
}
