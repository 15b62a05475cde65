// Comfytryon drives a fixed garment try-on pipeline on a ComfyUI host. It locates the
// host installation, loads its extra model path configuration, connects to the host's
// prompt queue and node registry, and submits a checkpoint, text conditioning,
// two-stage ControlNet and K-sampler graph built from literal parameters.
//
// All model execution happens inside ComfyUI; this module only configures and queues it.
package comfytryon
