package wifi

import (
	"errors"
	"net"
	"strings"
	"testing"
)

func TestAPCommands(t *testing.T) {
	tests := []struct {
		name       string
		passphrase string
		ip         string
		wantAddr   string
		wantSecure bool
	}{
		{name: "open network default ip", wantAddr: "192.168.4.1/24"},
		{name: "wpa2 custom mask", passphrase: "pitlane123", ip: "10.0.0.1/30", wantAddr: "10.0.0.1/30", wantSecure: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmds := apCommands("Lap Timer", tt.passphrase, tt.ip)
			if len(cmds) != 3 {
				t.Fatalf("commands=%d want 3", len(cmds))
			}
			add := strings.Join(cmds[0], " ")
			if !strings.Contains(add, "ssid Lap Timer mode ap") {
				t.Fatalf("add=%q", add)
			}
			if got := strings.Contains(add, "wifi-sec.psk"); got != tt.wantSecure {
				t.Fatalf("secure=%v want %v (%q)", got, tt.wantSecure, add)
			}
			if cmds[1][4] != tt.wantAddr {
				t.Fatalf("address=%q want %q", cmds[1][4], tt.wantAddr)
			}
			if strings.Join(cmds[2], " ") != "con up LapTimerAP" {
				t.Fatalf("up=%q", cmds[2])
			}
		})
	}
}

func TestSetupAP_RunsNmcliInOrder(t *testing.T) {
	var calls []string
	old := runFn
	runFn = func(name string, args ...string) ([]byte, error) {
		calls = append(calls, name+" "+strings.Join(args, " "))
		return nil, nil
	}
	t.Cleanup(func() { runFn = old })

	if err := SetupAP("Lap Timer", "", ""); err != nil {
		t.Fatalf("SetupAP() error: %v", err)
	}
	var nm []string
	for _, c := range calls {
		if strings.HasPrefix(c, "nmcli ") {
			nm = append(nm, c)
		}
	}
	if len(nm) != 4 {
		t.Fatalf("nmcli calls=%q", nm)
	}
	if nm[0] != "nmcli con delete LapTimerAP" || !strings.HasPrefix(nm[1], "nmcli con add") || nm[3] != "nmcli con up LapTimerAP" {
		t.Fatalf("nmcli calls=%q", nm)
	}
}

func TestSetupAP_ReportsFailure(t *testing.T) {
	old := runFn
	runFn = func(name string, args ...string) ([]byte, error) {
		if name == "nmcli" && len(args) > 1 && args[1] == "up" {
			return []byte("no device\n"), errors.New("exit status 10")
		}
		return nil, nil
	}
	t.Cleanup(func() { runFn = old })

	err := SetupAP("Lap Timer", "", "")
	if err == nil || !strings.Contains(err.Error(), "no device") {
		t.Fatalf("err=%v", err)
	}
}

func TestAPMAC(t *testing.T) {
	hw := net.HardwareAddr{0xb8, 0x27, 0xeb, 0x01, 0x02, 0x03}
	got := apMAC(hw)
	if got.String() != "ba:27:eb:01:02:03" {
		t.Fatalf("mac=%s", got)
	}
	if hw[0] != 0xb8 {
		t.Fatalf("input modified")
	}
}
