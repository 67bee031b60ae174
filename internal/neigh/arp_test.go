package neigh

import "testing"

func TestParseARPOutputLinux(t *testing.T) {
	output := `IP address       HW type     Flags       HW address            Mask     Device
192.168.1.1      0x1         0x2         aa:bb:cc:dd:ee:ff     *        eth0
192.168.1.2      0x1         0x2         11:22:33:44:55:66     *        eth0
192.168.1.3      0x1         0x0         00:00:00:00:00:00     *        eth0
`
	table := ParseARPOutput(output, "linux")
	if len(table) != 2 {
		t.Fatalf("entry count = %d, want 2 (incomplete entry skipped)", len(table))
	}
	if table["192.168.1.1"] != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("192.168.1.1 = %q, want AA:BB:CC:DD:EE:FF", table["192.168.1.1"])
	}
}

func TestParseARPOutputWindows(t *testing.T) {
	output := `
Interface: 192.168.1.100 --- 0x4
  Internet Address      Physical Address      Type
  192.168.1.1           aa-bb-cc-dd-ee-ff     dynamic
  192.168.1.2           11-22-33-44-55-66     dynamic
  192.168.1.255         ff-ff-ff-ff-ff-ff     static
`
	table := ParseARPOutput(output, "windows")
	if len(table) != 2 {
		t.Fatalf("entry count = %d, want 2 (broadcast skipped)", len(table))
	}
	if table["192.168.1.1"] != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("192.168.1.1 = %q, want AA:BB:CC:DD:EE:FF", table["192.168.1.1"])
	}
}

func TestParseARPOutputDarwin(t *testing.T) {
	output := `? (192.168.1.1) at aa:bb:cc:dd:ee:ff on en0 ifscope [ethernet]
? (192.168.1.2) at 11:22:33:44:55:66 on en0 ifscope [ethernet]
? (192.168.1.3) at (incomplete) on en0 ifscope [ethernet]
`
	table := ParseARPOutput(output, "darwin")
	if len(table) != 2 {
		t.Fatalf("entry count = %d, want 2 (incomplete skipped)", len(table))
	}
	if table["192.168.1.1"] != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("192.168.1.1 = %q, want AA:BB:CC:DD:EE:FF", table["192.168.1.1"])
	}
}

func TestParseARPOutputEmpty(t *testing.T) {
	for _, goos := range []string{"linux", "windows", "darwin"} {
		t.Run(goos, func(t *testing.T) {
			if table := ParseARPOutput("", goos); len(table) != 0 {
				t.Errorf("expected empty table, got %d entries", len(table))
			}
		})
	}
}

func TestParseARPOutputUnknownPlatform(t *testing.T) {
	if table := ParseARPOutput("anything", "freebsd"); len(table) != 0 {
		t.Errorf("expected empty table for unknown platform, got %d entries", len(table))
	}
}
