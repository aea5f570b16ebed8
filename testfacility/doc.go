// Package testfacility drives an engine.Application from a test through the variable
// directory, the same way an operator would.
//
// A Facility switches the application to testable mode. RunApplication writes the
// default of every writable variable, starts the application and steps once so the
// initial values propagate. Afterwards every value published by the application is
// queued per variable until a Scalar handle reads it.
//
//	f, err := testfacility.New(app)
//	require.NoError(t, err)
//	require.NoError(t, f.SetDefault("/Controller/setpoint", 20.0))
//	require.NoError(t, f.RunApplication(ctx))
//	defer f.Shutdown(ctx)
//
//	sp, _ := testfacility.GetScalar[float64](f, "/Controller/setpoint")
//	sp.Set(25)
//	require.NoError(t, sp.Write(ctx))
//	require.NoError(t, f.StepApplication(ctx))
//
//	heater, _ := testfacility.GetScalar[float64](f, "/Controller/heater")
//	require.True(t, heater.ReadNonBlocking())
package testfacility
