package db

import "os"

func SocialAccountsTableName() string {
	return os.Getenv("SOCIAL_ACCOUNTS_TABLE")
}

func SyncLocksTableName() string {
	return os.Getenv("SYNC_LOCKS_TABLE")
}

func SyncRunsTableName() string {
	return os.Getenv("SYNC_RUNS_TABLE")
}
