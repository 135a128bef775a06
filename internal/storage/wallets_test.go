package storage

import (
	"testing"

	"github.com/google/uuid"
)

func TestSaveAndGetWalletSnapshot(t *testing.T) {
	store := newTestStorage(t)
	id := uuid.New()

	snap := &WalletSnapshot{
		ID:                id,
		PrivateCommitment: "0xprivate",
		PublicCommitment:  "0xpublic",
		Data:              []byte(`{"id":"` + id.String() + `"}`),
	}
	if err := store.SaveWalletSnapshot(snap); err != nil {
		t.Fatalf("SaveWalletSnapshot() error = %v", err)
	}

	got, err := store.GetWalletSnapshot(id)
	if err != nil {
		t.Fatalf("GetWalletSnapshot() error = %v", err)
	}
	if got.PublicCommitment != "0xpublic" {
		t.Errorf("PublicCommitment = %s, want 0xpublic", got.PublicCommitment)
	}
	if string(got.Data) != string(snap.Data) {
		t.Errorf("Data = %s, want %s", got.Data, snap.Data)
	}

	// Saving again with a new commitment should update in place, not insert.
	snap.PublicCommitment = "0xpublic2"
	if err := store.SaveWalletSnapshot(snap); err != nil {
		t.Fatalf("SaveWalletSnapshot() update error = %v", err)
	}
	got, err = store.GetWalletSnapshot(id)
	if err != nil {
		t.Fatalf("GetWalletSnapshot() after update error = %v", err)
	}
	if got.PublicCommitment != "0xpublic2" {
		t.Errorf("PublicCommitment after update = %s, want 0xpublic2", got.PublicCommitment)
	}

	snapshots, err := store.ListWalletSnapshots()
	if err != nil {
		t.Fatalf("ListWalletSnapshots() error = %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("len(snapshots) = %d, want 1", len(snapshots))
	}
}

func TestGetWalletSnapshotNotFound(t *testing.T) {
	store := newTestStorage(t)

	_, err := store.GetWalletSnapshot(uuid.New())
	if err != ErrWalletNotFound {
		t.Errorf("GetWalletSnapshot() error = %v, want ErrWalletNotFound", err)
	}
}

func TestListWalletSnapshotsMultiple(t *testing.T) {
	store := newTestStorage(t)

	for i := 0; i < 3; i++ {
		snap := &WalletSnapshot{
			ID:                uuid.New(),
			PrivateCommitment: "0xpriv",
			PublicCommitment:  "0xpub",
			Data:              []byte("{}"),
		}
		if err := store.SaveWalletSnapshot(snap); err != nil {
			t.Fatalf("SaveWalletSnapshot() error = %v", err)
		}
	}

	snapshots, err := store.ListWalletSnapshots()
	if err != nil {
		t.Fatalf("ListWalletSnapshots() error = %v", err)
	}
	if len(snapshots) != 3 {
		t.Errorf("len(snapshots) = %d, want 3", len(snapshots))
	}
}

func TestDeleteWalletSnapshot(t *testing.T) {
	store := newTestStorage(t)
	id := uuid.New()

	if err := store.SaveWalletSnapshot(&WalletSnapshot{
		ID: id, PrivateCommitment: "0xpriv", PublicCommitment: "0xpub", Data: []byte("{}"),
	}); err != nil {
		t.Fatalf("SaveWalletSnapshot() error = %v", err)
	}

	if err := store.DeleteWalletSnapshot(id); err != nil {
		t.Fatalf("DeleteWalletSnapshot() error = %v", err)
	}

	if _, err := store.GetWalletSnapshot(id); err != ErrWalletNotFound {
		t.Errorf("GetWalletSnapshot() after delete error = %v, want ErrWalletNotFound", err)
	}

	if err := store.DeleteWalletSnapshot(id); err != ErrWalletNotFound {
		t.Errorf("DeleteWalletSnapshot() on missing row error = %v, want ErrWalletNotFound", err)
	}
}

func TestMarshalWalletData(t *testing.T) {
	data, err := MarshalWalletData(map[string]string{"id": "abc"})
	if err != nil {
		t.Fatalf("MarshalWalletData() error = %v", err)
	}
	if string(data) != `{"id":"abc"}` {
		t.Errorf("MarshalWalletData() = %s, want {\"id\":\"abc\"}", data)
	}
}
