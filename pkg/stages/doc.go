/*
Package stages implements the control pipeline tasks run by module runtimes.

Data flows through StateBus namespaces:

	input   -> input_buffer/target
	sense   -> sensor_state/bundle, sensor_state/joints
	plan    -> planned_trajectory/setpoint
	act     -> action_commands/command
	robot   -> robot_state/current_state, robot_state/is_safe
	output  -> output_signals/status

Act, Robot and Output latch the emergency stop through a system_status
subscription. Once latched, Act stops producing commands, Robot sends one
emergency stop to the adapter and stops forwarding, and Output reports the
stop in its signal.
*/
package stages
