// Package database provides SQLite connectivity for the bridge's durable state.
//
// The only durable state is the set of configured device records; everything
// else (connections, player state) is rebuilt at runtime. Schema changes are
// forward-only migrations embedded in the binary by the migrations package.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package database
