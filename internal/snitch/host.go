package snitch

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/snitch/internal/entity"
	"github.com/roach88/snitch/internal/fleet"
	"github.com/roach88/snitch/internal/ingest"
	"github.com/roach88/snitch/internal/run"
)

// Host records hosts from facts_<hostname>.json and their nameservers,
// mounts, devices, partitions and interfaces.
type Host struct{}

func (Host) Name() string { return "host" }

func (Host) Snitch(ctx context.Context, s *ingest.Session) error {
	files, err := s.Run.HostFiles("facts_")
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}
	env := s.Run.Environment()
	envInstance, err := s.Instance(fleet.Environment{AccountNumber: env.AccountNumber, Name: env.Name})
	if err != nil {
		return err
	}

	hosts := make([]entity.Instance, 0, len(files))
	for _, f := range files {
		host, err := updateHost(ctx, s, env, f)
		if err != nil {
			return err
		}
		hosts = append(hosts, host)
	}
	return s.SetChildren(ctx, envInstance, "hosts", hosts)
}

func updateHost(ctx context.Context, s *ingest.Session, env run.Environment, f run.HostFile) (entity.Instance, error) {
	doc, _, err := readDocument(f.Path)
	if err != nil {
		return entity.Instance{}, err
	}
	var all map[string]any
	if err := doc.decode(&all); err != nil {
		return entity.Instance{}, fmt.Errorf("%s: %w", f.Path, err)
	}
	facts := make(map[string]any, len(all))
	for k, v := range all {
		if strings.HasPrefix(k, "ansible_") {
			facts[k] = v
		}
	}

	host, err := s.Update(ctx, hostFromFacts(f.Host, env.Identity(), facts))
	if err != nil {
		return entity.Instance{}, err
	}

	steps := []func(context.Context, *ingest.Session, entity.Instance, map[string]any) error{
		updateNameservers,
		updateMounts,
		updateDevices,
		updateInterfaces,
	}
	for _, step := range steps {
		if err := step(ctx, s, host, facts); err != nil {
			return entity.Instance{}, fmt.Errorf("host %s: %w", host.Identity(), err)
		}
	}
	return host, nil
}

func hostFromFacts(hostname, environment string, facts map[string]any) fleet.Host {
	get := func(key string) any { return lookup(facts, key) }
	return fleet.Host{
		Hostname:                hostname,
		Environment:             environment,
		Architecture:            str(get("ansible_architecture")),
		BiosDate:                str(get("ansible_bios_date")),
		BiosVersion:             str(get("ansible_bios_version")),
		DefaultIPv4Address:      str(get("ansible_default_ipv4:address")),
		DefaultIPv6Address:      str(get("ansible_default_ipv6:address")),
		Kernel:                  str(get("ansible_kernel")),
		MemTotalMB:              int64p(get("ansible_memtotal_mb")),
		LSBCodename:             str(get("ansible_lsb:codename")),
		LSBDescription:          str(get("ansible_lsb:description")),
		LSBID:                   str(get("ansible_lsb:id")),
		LSBMajorRelease:         str(get("ansible_lsb:major_release")),
		LSBRelease:              str(get("ansible_lsb:release")),
		FQDN:                    str(get("ansible_fqdn")),
		PkgMgr:                  str(get("ansible_pkg_mgr")),
		ProcessorCores:          int64p(get("ansible_processor_cores")),
		ProcessorCount:          int64p(get("ansible_processor_count")),
		ProcessorThreadsPerCore: int64p(get("ansible_processor_threads_per_core")),
		ProcessorVCPUs:          int64p(get("ansible_processor_vcpus")),
		PythonExecutable:        str(get("ansible_python:executable")),
		PythonVersion:           str(get("ansible_python_version")),
		PythonType:              str(get("ansible_python:type")),
		ServiceMgr:              str(get("ansible_service_mgr")),
		SELinux:                 str(get("ansible_selinux")),
		AnsibleVersionFull:      str(get("ansible_version:full")),
	}
}

func updateNameservers(ctx context.Context, s *ingest.Session, host entity.Instance, facts map[string]any) error {
	list, ok := lookup(facts, "ansible_dns:nameservers").([]any)
	if !ok {
		return nil
	}
	srcs := make([]entity.Source, 0, len(list))
	for _, ip := range list {
		if v := str(ip); v != "" {
			srcs = append(srcs, fleet.NameServer{IP: v})
		}
	}
	children, err := s.UpdateAll(ctx, srcs)
	if err != nil {
		return err
	}
	return s.SetChildren(ctx, host, "nameservers", children)
}

func updateMounts(ctx context.Context, s *ingest.Session, host entity.Instance, facts map[string]any) error {
	list, _ := facts["ansible_mounts"].([]any)
	srcs := make([]entity.Source, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok || str(m["mount"]) == "" {
			continue
		}
		srcs = append(srcs, fleet.Mount{
			Mount:     str(m["mount"]),
			Host:      host.Identity(),
			Device:    str(m["device"]),
			SizeTotal: int64p(m["size_total"]),
			FSType:    str(m["fstype"]),
		})
	}
	children, err := s.UpdateAll(ctx, srcs)
	if err != nil {
		return err
	}
	return s.SetChildren(ctx, host, "mounts", children)
}

func updateDevices(ctx context.Context, s *ingest.Session, host entity.Instance, facts map[string]any) error {
	devices, _ := facts["ansible_devices"].(map[string]any)
	children := make([]entity.Instance, 0, len(devices))
	for _, name := range sortedKeys(devices) {
		d, _ := devices[name].(map[string]any)
		device, err := s.Update(ctx, fleet.Device{
			Name:       name,
			Host:       host.Identity(),
			Removable:  str(d["removable"]),
			Rotational: str(d["rotational"]),
			Size:       str(d["size"]),
		})
		if err != nil {
			return err
		}

		parts, _ := d["partitions"].(map[string]any)
		srcs := make([]entity.Source, 0, len(parts))
		for _, pname := range sortedKeys(parts) {
			p, _ := parts[pname].(map[string]any)
			srcs = append(srcs, fleet.Partition{
				Name:   pname,
				Device: device.Identity(),
				Size:   str(p["size"]),
				Start:  str(p["start"]),
			})
		}
		partitions, err := s.UpdateAll(ctx, srcs)
		if err != nil {
			return err
		}
		if err := s.SetChildren(ctx, device, "partitions", partitions); err != nil {
			return err
		}
		children = append(children, device)
	}
	return s.SetChildren(ctx, host, "devices", children)
}

func updateInterfaces(ctx context.Context, s *ingest.Session, host entity.Instance, facts map[string]any) error {
	names, _ := facts["ansible_interfaces"].([]any)
	srcs := make([]entity.Source, 0, len(names))
	for _, n := range names {
		name := str(n)
		key := "ansible_" + name
		if name == "" || facts[key] == nil {
			continue
		}
		get := func(field string) any { return lookup(facts, key+":"+field) }
		srcs = append(srcs, fleet.Interface{
			Device:      name,
			Host:        host.Identity(),
			Active:      boolp(get("active")),
			IPv4Address: str(get("ipv4:address")),
			IPv6Address: str(get("ipv6:address")),
			MACAddress:  str(get("macaddress")),
			MTU:         int64p(get("mtu")),
			Promisc:     boolp(get("promisc")),
			Type:        str(get("type")),
		})
	}
	children, err := s.UpdateAll(ctx, srcs)
	if err != nil {
		return err
	}
	return s.SetChildren(ctx, host, "interfaces", children)
}
