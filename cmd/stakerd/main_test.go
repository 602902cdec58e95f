package main

import (
	"testing"

	"perpstake/config"
)

func TestOpenDatabaseBackends(t *testing.T) {
	for _, backend := range []string{"memory", "leveldb", "bolt"} {
		t.Run(backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.Storage.Backend = backend
			cfg.DataDir = t.TempDir()
			db, err := openDatabase(cfg)
			if err != nil {
				t.Fatalf("open %s: %v", backend, err)
			}
			defer db.Close()
			if err := db.Put([]byte("k"), []byte("v")); err != nil {
				t.Fatalf("put: %v", err)
			}
			got, err := db.Get([]byte("k"))
			if err != nil || string(got) != "v" {
				t.Fatalf("get: %q %v", got, err)
			}
		})
	}
}
