//go:build windows

package webgpu

// workgroupSize is the number of threads per workgroup.
const workgroupSize = 256

// maxWorkgroupsX is the per-dimension dispatch limit; larger launches spill
// into the y dimension.
const maxWorkgroupsX = 65535

// adamwShader applies one fused AdamW step per element. The scalars are
// precomputed on the host; max_exp_avg_sq is bound to a placeholder when
// amsgrad is off.
const adamwShader = `
struct Params {
    beta1: f32,
    beta2: f32,
    one_minus_beta1: f32,
    one_minus_beta2: f32,
    bias_correction2: f32,
    step_size: f32,
    step_weight_decay: f32,
    eps: f32,
    size: u32,
    amsgrad: u32,
    stride_y: u32,
    _pad: u32,
}

@group(0) @binding(0) var<storage, read_write> param: array<f32>;
@group(0) @binding(1) var<storage, read> grad: array<f32>;
@group(0) @binding(2) var<storage, read_write> exp_avg: array<f32>;
@group(0) @binding(3) var<storage, read_write> exp_avg_sq: array<f32>;
@group(0) @binding(4) var<storage, read_write> max_exp_avg_sq: array<f32>;
@group(0) @binding(5) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x + global_id.y * params.stride_y;
    if (idx >= params.size) {
        return;
    }
    let g = grad[idx];
    let m = params.beta1 * exp_avg[idx] + params.one_minus_beta1 * g;
    let v = params.beta2 * exp_avg_sq[idx] + params.one_minus_beta2 * g * g;
    exp_avg[idx] = m;
    exp_avg_sq[idx] = v;

    var vhat = v;
    if (params.amsgrad != 0u) {
        vhat = max(max_exp_avg_sq[idx], v);
        max_exp_avg_sq[idx] = vhat;
    }
    let denom = sqrt(vhat / params.bias_correction2) + params.eps;
    param[idx] = param[idx] * params.step_weight_decay - params.step_size * m / denom;
}
`
