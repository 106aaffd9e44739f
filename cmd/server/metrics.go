package main

import (
	"fmt"
	"io"
)

func (rt *runtime) writeMetrics(w io.Writer) {
	fmt.Fprintf(w, "# HELP mwp_host_tick Current host tick.\n")
	fmt.Fprintf(w, "# TYPE mwp_host_tick gauge\n")
	fmt.Fprintf(w, "mwp_host_tick %d\n", rt.host.Tick())

	fmt.Fprintf(w, "# HELP mwp_host_clients Connected clients.\n")
	fmt.Fprintf(w, "# TYPE mwp_host_clients gauge\n")
	fmt.Fprintf(w, "mwp_host_clients %d\n", len(rt.host.Clients()))

	fmt.Fprintf(w, "# HELP mwp_host_pending_tasks Scheduled host tasks not yet run.\n")
	fmt.Fprintf(w, "# TYPE mwp_host_pending_tasks gauge\n")
	fmt.Fprintf(w, "mwp_host_pending_tasks %d\n", rt.host.Pending())

	fmt.Fprintf(w, "# HELP mwp_config_groups Configured world groups.\n")
	fmt.Fprintf(w, "# TYPE mwp_config_groups gauge\n")
	fmt.Fprintf(w, "mwp_config_groups %d\n", len(rt.holder.Get().Groups))

	ws := rt.ws.Stats()
	fmt.Fprintf(w, "# HELP mwp_ws_connections Open websocket sessions.\n")
	fmt.Fprintf(w, "# TYPE mwp_ws_connections gauge\n")
	fmt.Fprintf(w, "mwp_ws_connections %d\n", ws.Connected)

	fmt.Fprintf(w, "# HELP mwp_ws_dropped_events_total Events dropped because a session queue was full.\n")
	fmt.Fprintf(w, "# TYPE mwp_ws_dropped_events_total counter\n")
	fmt.Fprintf(w, "mwp_ws_dropped_events_total %d\n", ws.DroppedEvents)

	fmt.Fprintf(w, "# HELP mwp_transition_outcomes_total Handled dimension transitions by outcome.\n")
	fmt.Fprintf(w, "# TYPE mwp_transition_outcomes_total counter\n")
	for _, m := range rt.manager.OutcomeMetrics() {
		fmt.Fprintf(w, "mwp_transition_outcomes_total{from=%q,to=%q,outcome=%q} %d\n", m.From, m.To, m.Outcome, m.Count)
	}

	if rt.index != nil {
		s := rt.index.Stats()
		fmt.Fprintf(w, "# HELP mwp_index_queue_depth Outcome rows waiting for the index writer.\n")
		fmt.Fprintf(w, "# TYPE mwp_index_queue_depth gauge\n")
		fmt.Fprintf(w, "mwp_index_queue_depth %d\n", s.QueueDepth)

		fmt.Fprintf(w, "# HELP mwp_index_queue_capacity Index writer queue capacity.\n")
		fmt.Fprintf(w, "# TYPE mwp_index_queue_capacity gauge\n")
		fmt.Fprintf(w, "mwp_index_queue_capacity %d\n", s.QueueCapacity)

		fmt.Fprintf(w, "# HELP mwp_index_dropped_outcomes_total Outcome rows dropped because the index queue was full.\n")
		fmt.Fprintf(w, "# TYPE mwp_index_dropped_outcomes_total counter\n")
		fmt.Fprintf(w, "mwp_index_dropped_outcomes_total %d\n", s.DropOutcomeTotal)
	}

	writeOffsiteMetrics(w, rt.offsite)
}

func writeOffsiteMetrics(w io.Writer, r *offsiteRuntime) {
	if r == nil || !r.enabled {
		return
	}
	s := r.mirror.Stats()

	fmt.Fprintf(w, "# HELP mwp_offsite_queue_depth Current offsite mirror queue depth.\n")
	fmt.Fprintf(w, "# TYPE mwp_offsite_queue_depth gauge\n")
	fmt.Fprintf(w, "mwp_offsite_queue_depth %d\n", s.QueueDepth)

	fmt.Fprintf(w, "# HELP mwp_offsite_queue_capacity Offsite mirror queue capacity.\n")
	fmt.Fprintf(w, "# TYPE mwp_offsite_queue_capacity gauge\n")
	fmt.Fprintf(w, "mwp_offsite_queue_capacity %d\n", s.QueueCapacity)

	fmt.Fprintf(w, "# HELP mwp_offsite_enqueued_total Total mirror enqueue attempts.\n")
	fmt.Fprintf(w, "# TYPE mwp_offsite_enqueued_total counter\n")
	fmt.Fprintf(w, "mwp_offsite_enqueued_total %d\n", s.EnqueuedTotal)

	fmt.Fprintf(w, "# HELP mwp_offsite_queue_saturated_total Total enqueue attempts when the queue was saturated.\n")
	fmt.Fprintf(w, "# TYPE mwp_offsite_queue_saturated_total counter\n")
	fmt.Fprintf(w, "mwp_offsite_queue_saturated_total %d\n", s.QueueSaturatedTotal)

	fmt.Fprintf(w, "# HELP mwp_offsite_dropped_total Total mirror jobs dropped because the queue stayed saturated.\n")
	fmt.Fprintf(w, "# TYPE mwp_offsite_dropped_total counter\n")
	fmt.Fprintf(w, "mwp_offsite_dropped_total %d\n", s.DroppedTotal)

	fmt.Fprintf(w, "# HELP mwp_offsite_upload_success_total Total successful uploads.\n")
	fmt.Fprintf(w, "# TYPE mwp_offsite_upload_success_total counter\n")
	fmt.Fprintf(w, "mwp_offsite_upload_success_total %d\n", s.UploadSuccessTotal)

	fmt.Fprintf(w, "# HELP mwp_offsite_delete_total Total mirrored deletes.\n")
	fmt.Fprintf(w, "# TYPE mwp_offsite_delete_total counter\n")
	fmt.Fprintf(w, "mwp_offsite_delete_total %d\n", s.DeleteTotal)

	fmt.Fprintf(w, "# HELP mwp_offsite_upload_fail_total Total failed jobs after retry.\n")
	fmt.Fprintf(w, "# TYPE mwp_offsite_upload_fail_total counter\n")
	fmt.Fprintf(w, "mwp_offsite_upload_fail_total %d\n", s.UploadFailTotal)

	fmt.Fprintf(w, "# HELP mwp_offsite_last_success_unix Unix timestamp of the last successful job.\n")
	fmt.Fprintf(w, "# TYPE mwp_offsite_last_success_unix gauge\n")
	fmt.Fprintf(w, "mwp_offsite_last_success_unix %d\n", s.LastSuccessUnix)

	fmt.Fprintf(w, "# HELP mwp_offsite_last_error_unix Unix timestamp of the last failed job.\n")
	fmt.Fprintf(w, "# TYPE mwp_offsite_last_error_unix gauge\n")
	fmt.Fprintf(w, "mwp_offsite_last_error_unix %d\n", s.LastErrorUnix)
}
