package device

import "testing"

func testDevice(fp string) Device {
	return Device{
		Alias:       "Alice",
		Fingerprint: fp,
		Version:     "2.0",
		DeviceModel: "Laptop",
		DeviceType:  DeviceTypeDesktop,
		Port:        53317,
		Protocol:    ProtocolHTTP,
		Download:    true,
	}
}

func TestRegistryInsertDedup(t *testing.T) {
	r := NewRegistry()
	d := testDevice("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")

	if !r.Insert(d) {
		t.Fatal("first insert should succeed")
	}
	for i := 0; i < 4; i++ {
		if r.Insert(d) {
			t.Fatal("duplicate insert should be rejected")
		}
	}

	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistryRejectsSelf(t *testing.T) {
	r := NewRegistry()
	self := testDevice("SELFSELFSELFSELFSELFSELFSELFS")
	r.SetSelf(self)

	if r.Insert(self) {
		t.Fatal("self-announcement should be rejected")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistryInsertionOrderPreserved(t *testing.T) {
	r := NewRegistry()
	fps := []string{"A000000000000000000000000000", "B000000000000000000000000000", "C000000000000000000000000000"}
	for _, fp := range fps {
		r.Insert(testDevice(fp))
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("List() len = %d, want 3", len(list))
	}
	for i, fp := range fps {
		if list[i].Fingerprint != fp {
			t.Errorf("List()[%d].Fingerprint = %q, want %q", i, list[i].Fingerprint, fp)
		}
	}
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	d := testDevice("REMOVEME0000000000000000000000"[:30])
	r.Insert(d)

	if !r.Remove(d.Fingerprint) {
		t.Fatal("Remove() should report true for existing device")
	}
	if r.Remove(d.Fingerprint) {
		t.Fatal("Remove() should report false for already-removed device")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestDeviceValidate(t *testing.T) {
	tests := []struct {
		name    string
		d       Device
		wantErr bool
	}{
		{"valid", testDevice("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"), false},
		{"bad fingerprint", func() Device { d := testDevice("short"); return d }(), true},
		{"bad device type", func() Device { d := testDevice("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"); d.DeviceType = "tablet"; return d }(), true},
		{"bad protocol", func() Device { d := testDevice("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"); d.Protocol = "ftp"; return d }(), true},
		{"bad port", func() Device { d := testDevice("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"); d.Port = 0; return d }(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
