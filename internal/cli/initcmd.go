package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// starterConfig is the commented template `arbiterctl init` writes. It
// mirrors config.Default(); everything commented out is optional.
const starterConfig = `# arbiter node configuration.
# Copy this file to every node and change cluster.node, cluster.address,
# and (for proxies) cluster.role.

cluster:
  # All nodes arbitrating for the same active slot share one name.
  name: zabbix-ha
  # Unique human name for this node, e.g. the hostname.
  node: zbx-server-1
  # server nodes stand for election; proxy nodes are liveness-only.
  role: server
  # Address peers and DNS clients reach this node on, host:port.
  address: 10.0.0.11:10051

database:
  # The shared PostgreSQL store. Point every node at the primary.
  host: localhost
  port: 5432
  name: arbiter
  user: arbiter
  password: ""
  sslmode: disable

lease:
  # ttl must be greater than twice renew_interval.
  ttl: 15s
  renew_interval: 5s
  acquire_interval: 2s

failover:
  # down_after defaults to 3x lease.renew_interval when omitted.
  # down_after: 15s
  failure_threshold: 3
  recovery_threshold: 2
  sweep_interval: 5s
  switchover_cooldown: 1m

# Deep health checks the active node runs against its peers.
#probes:
#  - node: zbx-server-2
#    type: http            # http, tcp, icmp, docker
#    target: http://10.0.0.12:8080/health
#    timeout: 5s
#  - node: zbx-proxy-1
#    type: docker
#    target: zabbix-proxy  # container name

dns:
  # Embedded responder answering active.<zone> with the current primary.
  enabled: false
  # zone: ha.example.internal
  listen: ":5353"
  ttl: 5

replication:
  # Observe pg_stat_replication on the primary; emits events on lag.
  enabled: false
  poll_interval: 10s
  max_lag_bytes: 16777216

events:
  buffer_size: 256
  history: true
  # journal_dir: /var/lib/arbiter/journal
  journal_max_size_mb: 16
  # archive:
  #   enabled: true
  #   bucket: arbiter-journals
  #   region: us-east-1

notify:
  webhooks: []
  # - name: pager
  #   url: https://example.com/hooks/arbiter
  #   events: ["failover.*", "node.down"]
  #   secret: ""
  mail:
    enabled: false
  kafka:
    enabled: false

api:
  listen: ":8080"
  # Required for control routes. Generate a hash with:
  #   htpasswd -bnBC 10 "" <token> | tr -d ':\n'
  # jwt_secret: change-me
  # operators:
  #   - name: ops
  #     token_hash: "$2a$10$..."
  token_ttl: 1h
  rate_limit: 50
  rate_burst: 100

log:
  level: info
`

func newInitCommand() *cobra.Command {
	var (
		output string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented starter config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				if _, err := os.Stat(output); err == nil {
					return fmt.Errorf("%s already exists, use --force to overwrite", output)
				}
			}
			if err := os.WriteFile(output, []byte(starterConfig), 0o600); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Printf("wrote %s; edit cluster.node and database before starting arbiterd\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "arbiter.yaml", "where to write the config file")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
